package response

import "github.com/gin-gonic/gin"

const (
	ErrCodeSuccess          = 2000 // Success
	ErrCodeParamInvalid     = 4001 // Invalid request parameters
	ErrCodeUnauthorized     = 4010 // Missing or invalid credential
	ErrCodeForbidden        = 4030 // Admin token rejected
	ErrCodeNotFound         = 4040 // Resource not found
	ErrCodeRateLimited      = 4290 // Rate limit exceeded
	ErrCodeInternal         = 5000 // Unexpected failure
	ErrCodeStoreUnavailable = 5031 // Store breaker open or store failing
	ErrCodeIngressDisabled  = 5032 // Event producer not configured
)

// message
var msg = map[int]string{
	ErrCodeSuccess:          "success",
	ErrCodeParamInvalid:     "invalid request parameters",
	ErrCodeUnauthorized:     "unauthorized",
	ErrCodeForbidden:        "forbidden",
	ErrCodeNotFound:         "not found",
	ErrCodeRateLimited:      "rate limit exceeded",
	ErrCodeInternal:         "internal server error",
	ErrCodeStoreUnavailable: "notification store unavailable",
	ErrCodeIngressDisabled:  "event ingress is not enabled",
}

// Msg returns the canonical message for code.
func Msg(code int) string {
	if m, ok := msg[code]; ok {
		return m
	}
	return msg[ErrCodeInternal]
}

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Error aborts the request with status and a coded error body.
func Error(c *gin.Context, status, code int, details string) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: code, Error: Msg(code), Details: details})
}
