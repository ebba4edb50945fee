package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pairchat/internal/identity"
	"pairchat/internal/media"
)

// UserHandler serves profile, partner and status lookups.
type UserHandler struct {
	identity IdentityService
	uploader Uploader
	auditor  Auditor
}

func NewUserHandler(identity IdentityService, uploader Uploader, auditor Auditor) *UserHandler {
	return &UserHandler{identity: identity, uploader: uploader, auditor: auditor}
}

func (h *UserHandler) Routes(rg *gin.RouterGroup) {
	rg.PUT("/users/profile", h.UpdateProfile)
	rg.PUT("/users/profile/picture", h.UpdateProfilePicture)
	rg.GET("/users/partner", h.Partner)
	rg.GET("/users/status/:user_id", h.Status)
}

func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req identity.ProfileInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.identity.UpdateProfile(c.Request.Context(), userIDFromContext(c), req)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateProfilePicture takes a multipart "profilePicture" file.
func (h *UserHandler) UpdateProfilePicture(c *gin.Context) {
	url, ok := storeFormFile(c, h.uploader, h.auditor, "profilePicture", media.ProfilePicture)
	if !ok {
		return
	}

	user, err := h.identity.UpdateProfilePicture(c.Request.Context(), userIDFromContext(c), url)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *UserHandler) Partner(c *gin.Context) {
	partner, err := h.identity.Partner(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partner": partner})
}

func (h *UserHandler) Status(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	status, err := h.identity.Status(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
