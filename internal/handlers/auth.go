package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"pairchat/internal/identity"
	"pairchat/internal/models"
)

// IdentityService covers accounts, pairing and profiles.
type IdentityService interface {
	Register(ctx context.Context, in identity.RegisterInput) (identity.Session, error)
	Login(ctx context.Context, username, password string) (identity.Session, error)
	Me(ctx context.Context, userID int64) (models.User, *models.User, error)
	Partner(ctx context.Context, userID int64) (models.User, error)
	LinkPartner(ctx context.Context, userID int64, username string) (models.User, models.User, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error
	UpdateProfile(ctx context.Context, userID int64, in identity.ProfileInput) (models.User, error)
	UpdateProfilePicture(ctx context.Context, userID int64, url string) (models.User, error)
	Status(ctx context.Context, userID int64) (models.UserStatus, error)
}

// AuthHandler serves registration, login and partner linking.
type AuthHandler struct {
	identity IdentityService
	auditor  Auditor
}

func NewAuthHandler(identity IdentityService, auditor Auditor) *AuthHandler {
	return &AuthHandler{identity: identity, auditor: auditor}
}

// Routes mounts register and login on public and the rest on private.
func (h *AuthHandler) Routes(public, private *gin.RouterGroup) {
	public.POST("/auth/register", h.Register)
	public.POST("/auth/login", h.Login)
	private.GET("/auth/me", h.Me)
	private.POST("/auth/link-partner", h.LinkPartner)
	private.POST("/auth/change-password", h.ChangePassword)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req identity.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.identity.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.identity.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Me returns the caller and, when paired, their partner.
func (h *AuthHandler) Me(c *gin.Context) {
	user, partner, err := h.identity.Me(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "partner": partner})
}

func (h *AuthHandler) LinkPartner(c *gin.Context) {
	var req struct {
		PartnerUsername string `json:"partner_username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, partner, err := h.identity.LinkPartner(c.Request.Context(), userIDFromContext(c), req.PartnerUsername)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "partner": partner})
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.identity.ChangePassword(c.Request.Context(), userIDFromContext(c), req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}
