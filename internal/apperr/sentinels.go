package apperr

var (
	ErrInvalidPayload     = InvalidArg("message content or media reference is required")
	ErrMessageNotFound    = NotFound("message not found")
	ErrUserNotFound       = NotFound("user not found")
	ErrNoCounterpart      = NotFound("no partner found")
	ErrNotRecipient       = Forbidden("not authorized to mark this message as seen")
	ErrNotSender          = Forbidden("you can only delete your own messages")
	ErrCapacityExceeded   = New(CodeCapacityExceeded, "only two users are allowed")
	ErrUsernameTaken      = New(CodeAlreadyExists, "username already exists")
	ErrAlreadyPaired      = New(CodeAlreadyPaired, "you already have a partner linked to your account")
	ErrConflictingPairing = New(CodeConflictingPairing, "this user is already linked with another partner")
	ErrInvalidCredentials = Unauthorized("invalid username or password")
	ErrInvalidToken       = Unauthorized("invalid token")
	ErrWrongPassword      = Unauthorized("current password is incorrect")
	ErrPasswordTooShort   = InvalidArg("new password must be at least 6 characters long")
	ErrUnsupportedMedia   = InvalidArg("unsupported media file")
	ErrMediaTooLarge      = InvalidArg("media file too large")
)

func ErrUploadFailed(cause error) error {
	return Wrap(CodeUploadFailed, "failed to upload media", cause)
}
