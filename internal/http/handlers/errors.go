package handlers

import (
	"net/http"

	"ticketbackend/internal/domain"
	"ticketbackend/internal/http/middleware"
	"ticketbackend/internal/utils"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the payload of every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Retryable: status == http.StatusBadGateway || status >= http.StatusInternalServerError,
		Details:   details,
		RequestID: middleware.GetRequestID(c),
	})
}

// statusFor maps a domain error to its HTTP status. A few conflicts are
// reported as 400 because clients treat them as bad requests.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		if domain.HasCode(err, "invalid_credentials") {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsAuthorization(err):
		return http.StatusForbidden
	case domain.IsConflict(err):
		switch domain.CodeOf(err) {
		case domain.CodeAlreadyProcessed, domain.CodeAlreadyPaid, domain.CodeInsufficientInventory:
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case domain.IsUpstream(err):
		return http.StatusBadGateway
	case domain.IsInvariant(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError maps domain errors to HTTP responses. Internal detail
// is logged, never returned.
func RespondDomainError(c *gin.Context, err error) {
	status := statusFor(err)
	code := domain.CodeOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		utils.Log(middleware.GetRequestID(c), "http").WithError(err).
			WithField("path", c.Request.URL.Path).Error("request failed")
		if status == http.StatusInternalServerError {
			code, msg = domain.CodeInternal, "something went wrong"
		}
	}
	respondError(c, status, code, msg, nil)
}
