package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailverify-backend/verification-service/service"
)

type VerificationHandler struct {
	service *service.Service
	users   service.IdentityStore
}

func NewVerificationHandler(svc *service.Service, users service.IdentityStore) *VerificationHandler {
	return &VerificationHandler{service: svc, users: users}
}

// CreateTokenRequest represents the request for issuing a verification token
type CreateTokenRequest struct {
	Email string `json:"email" binding:"required,email" example:"user@example.com"`
}

// CreateTokenResponse returns the secret for the registration flow to deliver
type CreateTokenResponse struct {
	Token     string `json:"token"`
	FirstName string `json:"first_name"`
}

// ResendRequest represents the resend request body
type ResendRequest struct {
	Email string `json:"email" binding:"required,email" example:"user@example.com"`
}

// RevokeRequest represents the administrative revoke request body
type RevokeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// The one message completion failures collapse into, regardless of why the
// token was rejected.
const genericVerifyFailure = "This verification link is invalid or has expired. Please request a new one."

// POST /api/verification/tokens
// @Summary Issue initial verification token
// @Description Issue the first verification token for a registered account. Internal endpoint, called by the registration flow.
// @Tags verification
// @Accept json
// @Produce json
// @Param request body CreateTokenRequest true "Account email"
// @Success 201 {object} handlers.CreateTokenResponse "Token issued"
// @Failure 400 {object} map[string]string "Invalid request format"
// @Failure 404 {object} map[string]string "User not found"
// @Failure 500 {object} map[string]string "Could not issue token"
// @Router /verification/tokens [post]
func (h *VerificationHandler) CreateToken(c *gin.Context) {
	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not issue token"})
		return
	}

	secret, err := h.service.IssueInitial(c.Request.Context(), user.ID, user.Email, requestInfo(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not issue token"})
		return
	}

	c.JSON(http.StatusCreated, CreateTokenResponse{
		Token:     secret,
		FirstName: user.FirstName,
	})
}

// POST /api/verification/resend
// @Summary Resend verification email
// @Description Issue a replacement verification token and email it, subject to the sliding-window rate limit
// @Tags verification
// @Accept json
// @Produce json
// @Param request body ResendRequest true "Account email"
// @Success 200 {object} map[string]string "Verification email sent (or generic response for unknown emails)"
// @Failure 400 {object} map[string]string "Invalid request format"
// @Failure 429 {object} map[string]string "Too many resend attempts"
// @Failure 500 {object} map[string]string "Could not send verification email"
// @Router /verification/resend [post]
func (h *VerificationHandler) Resend(c *gin.Context) {
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Resend(c.Request.Context(), req.Email, requestInfo(c))
	if err != nil {
		var rateLimited *service.RateLimitedError
		var mailFailed *service.MailDeliveryError

		switch {
		case errors.Is(err, service.ErrInvalidFormat):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email format"})
		case errors.Is(err, service.ErrUserNotFound):
			// Don't reveal whether the email exists
			c.JSON(http.StatusOK, gin.H{"message": "If an account with this email exists, a verification email will be sent"})
		case errors.Is(err, service.ErrAlreadyVerified):
			c.JSON(http.StatusOK, gin.H{"message": "This email address is already verified. You can log in."})
		case errors.As(err, &rateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":               "Too many resend attempts. Please try again later.",
				"retry_after_seconds": int(rateLimited.RetryAfter.Seconds()),
			})
		case errors.As(err, &mailFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not send verification email. Please try again later."})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not process request"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            "Verification email sent. Please check your inbox.",
		"remaining_attempts": result.Remaining,
	})
}

// GET /api/verification/verify/:token
// @Summary Complete email verification
// @Description Consume a verification token and confirm the account's email address
// @Tags verification
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} map[string]string "Email verified"
// @Failure 400 {object} map[string]string "Invalid or expired token"
// @Failure 503 {object} map[string]string "Temporarily unavailable"
// @Router /verification/verify/{token} [get]
func (h *VerificationHandler) Verify(c *gin.Context) {
	secret := c.Param("token")

	subjectID, err := h.service.Complete(c.Request.Context(), secret, requestInfo(c))
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": genericVerifyFailure})
			return
		}
		// Transient storage trouble; safe for the client to retry
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Verification is temporarily unavailable. Please try again."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Email verified successfully. You can now log in.",
		"subject_id": subjectID,
	})
}

// POST /api/verification/revoke
// @Summary Revoke active verification token
// @Description Administratively invalidate the account's active verification token
// @Tags verification
// @Accept json
// @Produce json
// @Param request body RevokeRequest true "Account email"
// @Success 200 {object} map[string]string "Token revoked"
// @Failure 400 {object} map[string]string "Invalid request format"
// @Failure 404 {object} map[string]string "User not found"
// @Failure 500 {object} map[string]string "Could not revoke token"
// @Router /verification/revoke [post]
func (h *VerificationHandler) Revoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.Revoke(c.Request.Context(), req.Email, requestInfo(c)); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not revoke token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Verification token revoked"})
}

func requestInfo(c *gin.Context) service.RequestInfo {
	return service.RequestInfo{
		SourceIP:  c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
}
