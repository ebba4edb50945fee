package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"pairchat/internal/delivery"
	"pairchat/internal/identity"
	"pairchat/internal/media"
	"pairchat/internal/models"
)

type MessageEngineMock struct {
	mock.Mock
}

func (m *MessageEngineMock) Send(ctx context.Context, senderID int64, in delivery.SendInput) (models.Message, error) {
	args := m.Called(ctx, senderID, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageEngineMock) MarkSeen(ctx context.Context, viewerID, messageID int64) (models.Message, error) {
	args := m.Called(ctx, viewerID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageEngineMock) Delete(ctx context.Context, requesterID, messageID int64, alsoForCounterpart bool) (models.Message, error) {
	args := m.Called(ctx, requesterID, messageID, alsoForCounterpart)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageEngineMock) ListConversation(ctx context.Context, viewerID int64, page, limit int) (models.MessagePage, models.Pagination, error) {
	args := m.Called(ctx, viewerID, page, limit)
	var result models.MessagePage
	if val := args.Get(0); val != nil {
		result = val.(models.MessagePage)
	}
	var pagination models.Pagination
	if val := args.Get(1); val != nil {
		pagination = val.(models.Pagination)
	}
	return result, pagination, args.Error(2)
}

func (m *MessageEngineMock) UnreadCount(ctx context.Context, viewerID int64) (int, error) {
	args := m.Called(ctx, viewerID)
	return args.Int(0), args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Store(ctx context.Context, filename string, size int64, body io.Reader, category media.Category) (string, error) {
	args := m.Called(ctx, filename, size, body, category)
	return args.String(0), args.Error(1)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, level, text, requestID string, userID int64) {
	m.Called(ctx, level, text, requestID, userID)
}

type IdentityServiceMock struct {
	mock.Mock
}

func (m *IdentityServiceMock) Register(ctx context.Context, in identity.RegisterInput) (identity.Session, error) {
	args := m.Called(ctx, in)
	var session identity.Session
	if val := args.Get(0); val != nil {
		session = val.(identity.Session)
	}
	return session, args.Error(1)
}

func (m *IdentityServiceMock) Login(ctx context.Context, username, password string) (identity.Session, error) {
	args := m.Called(ctx, username, password)
	var session identity.Session
	if val := args.Get(0); val != nil {
		session = val.(identity.Session)
	}
	return session, args.Error(1)
}

func (m *IdentityServiceMock) Me(ctx context.Context, userID int64) (models.User, *models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	var partner *models.User
	if val := args.Get(1); val != nil {
		partner = val.(*models.User)
	}
	return user, partner, args.Error(2)
}

func (m *IdentityServiceMock) Partner(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *IdentityServiceMock) LinkPartner(ctx context.Context, userID int64, username string) (models.User, models.User, error) {
	args := m.Called(ctx, userID, username)
	var user, partner models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	if val := args.Get(1); val != nil {
		partner = val.(models.User)
	}
	return user, partner, args.Error(2)
}

func (m *IdentityServiceMock) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	args := m.Called(ctx, userID, current, next)
	return args.Error(0)
}

func (m *IdentityServiceMock) UpdateProfile(ctx context.Context, userID int64, in identity.ProfileInput) (models.User, error) {
	args := m.Called(ctx, userID, in)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *IdentityServiceMock) UpdateProfilePicture(ctx context.Context, userID int64, url string) (models.User, error) {
	args := m.Called(ctx, userID, url)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *IdentityServiceMock) Status(ctx context.Context, userID int64) (models.UserStatus, error) {
	args := m.Called(ctx, userID)
	var status models.UserStatus
	if val := args.Get(0); val != nil {
		status = val.(models.UserStatus)
	}
	return status, args.Error(1)
}
