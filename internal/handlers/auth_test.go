package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pairchat/internal/apperr"
	"pairchat/internal/identity"
	"pairchat/internal/mocks"
	"pairchat/internal/models"
)

func setupAuthRouter(svc *mocks.IdentityServiceMock, auditor Auditor) *gin.Engine {
	r, private := newTestRouter(1)
	NewAuthHandler(svc, auditor).Routes(r.Group("/"), private)
	return r
}

func TestRegisterSuccess(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	router := setupAuthRouter(svc, nil)

	input := identity.RegisterInput{Username: "alice", Password: "secret1", DisplayName: "Alice"}
	svc.On("Register", mock.Anything, input).
		Return(identity.Session{User: models.User{ID: 1, Username: "alice"}, Token: "tok"}, nil).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"secret1","display_name":"Alice"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "tok", body["token"])
	assert.NotContains(t, body, "partner")
	svc.AssertExpectations(t)
}

func TestRegisterOverCapacityIsAudited(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	auditor := new(mocks.AuditorMock)
	router := setupAuthRouter(svc, auditor)

	svc.On("Register", mock.Anything, mock.Anything).Return(nil, apperr.ErrCapacityExceeded).Once()
	auditor.On("Emit", mock.Anything, "WARN", mock.MatchedBy(func(text string) bool {
		return text == "/auth/register rejected: only two users are allowed"
	}), mock.Anything, int64(0)).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"carol","password":"secret1"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only two users are allowed", decodeBody(t, rec)["error"])
	auditor.AssertExpectations(t)
}

func TestRegisterUsernameTaken(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	router := setupAuthRouter(svc, nil)

	svc.On("Register", mock.Anything, mock.Anything).Return(nil, apperr.ErrUsernameTaken).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"secret1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	router := setupAuthRouter(svc, nil)

	svc.On("Login", mock.Anything, "alice", "nope").Return(nil, apperr.ErrInvalidCredentials).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"nope"}`)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid username or password", decodeBody(t, rec)["error"])
}

func TestMeIncludesPartner(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	router := setupAuthRouter(svc, nil)

	partner := &models.User{ID: 2, Username: "bob"}
	svc.On("Me", mock.Anything, int64(1)).Return(models.User{ID: 1, Username: "alice"}, partner, nil).Once()

	rec := doJSON(t, router, http.MethodGet, "/auth/me", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "bob", body["partner"].(map[string]any)["username"])
}

func TestLinkPartnerConflictIsAudited(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	auditor := new(mocks.AuditorMock)
	router := setupAuthRouter(svc, auditor)

	svc.On("LinkPartner", mock.Anything, int64(1), "bob").Return(nil, nil, apperr.ErrConflictingPairing).Once()
	auditor.On("Emit", mock.Anything, "WARN", mock.Anything, mock.Anything, int64(1)).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/link-partner", `{"partner_username":"bob"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	auditor.AssertExpectations(t)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	router := setupAuthRouter(svc, nil)

	svc.On("ChangePassword", mock.Anything, int64(1), "old", "newpass").Return(apperr.ErrWrongPassword).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/change-password", `{"current_password":"old","new_password":"newpass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordSuccess(t *testing.T) {
	svc := new(mocks.IdentityServiceMock)
	router := setupAuthRouter(svc, nil)

	svc.On("ChangePassword", mock.Anything, int64(1), "old", "newpass").Return(nil).Once()

	rec := doJSON(t, router, http.MethodPost, "/auth/change-password", `{"current_password":"old","new_password":"newpass"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}
