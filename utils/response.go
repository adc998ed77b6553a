package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse is the uniform envelope for every REST payload.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Business codes. The first two digits mirror the HTTP status class.
const (
	CodeOK           = 20000
	CodeBadRequest   = 40000
	CodeUnauthorized = 40100
	CodeForbidden    = 40300
	CodeNotFound     = 40400
	CodeConflict     = 40900
	CodeTooMany      = 42900
	CodeInternal     = 50000
)

// Respond writes the envelope with the given HTTP status.
func Respond(c *gin.Context, status, code int, message string, data interface{}) {
	c.JSON(status, JSONResponse{Code: code, Message: message, Data: data})
}

// Success writes a 200 envelope.
func Success(c *gin.Context, data interface{}) {
	Respond(c, http.StatusOK, CodeOK, "ok", data)
}

// Error writes an error envelope, mapping the business code to an HTTP status.
func Error(c *gin.Context, code int, message string) {
	status := http.StatusInternalServerError
	switch {
	case code >= 50000:
		status = http.StatusInternalServerError
	case code >= 42900:
		status = http.StatusTooManyRequests
	case code >= 40900:
		status = http.StatusConflict
	case code >= 40400:
		status = http.StatusNotFound
	case code >= 40300:
		status = http.StatusForbidden
	case code >= 40100:
		status = http.StatusUnauthorized
	case code >= 40000:
		status = http.StatusBadRequest
	}
	Respond(c, status, code, message, nil)
}
