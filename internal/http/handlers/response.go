package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps the error taxonomy onto HTTP statuses; unclassified
// errors surface as 500s without leaking internals.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := string(apierr.KindInternal)
	msg := "internal error"

	switch {
	case errors.Is(err, apierr.ErrNotFound):
		status, code, msg = http.StatusNotFound, string(apierr.KindNotFound), "not found"
	case errors.Is(err, apierr.ErrForbidden):
		status, code, msg = http.StatusForbidden, string(apierr.KindForbidden), "forbidden"
	case errors.Is(err, apierr.ErrInvalidArgument):
		status, code, msg = http.StatusBadRequest, string(apierr.KindValidation), err.Error()
	default:
		switch kind := apierr.KindOf(err); kind {
		case apierr.KindValidation:
			status, code, msg = http.StatusBadRequest, string(kind), err.Error()
		case apierr.KindNotFound:
			status, code, msg = http.StatusNotFound, string(kind), "not found"
		case apierr.KindForbidden:
			status, code, msg = http.StatusForbidden, string(kind), "forbidden"
		case apierr.KindConflict:
			status, code, msg = http.StatusConflict, string(kind), err.Error()
		case apierr.KindUpgradeRequired:
			status, code, msg = http.StatusUpgradeRequired, string(kind), err.Error()
		case apierr.KindTimeout:
			status, code, msg = http.StatusGatewayTimeout, string(kind), "timed out"
		case apierr.KindLLM, apierr.KindEmbedding, apierr.KindStorage:
			status, code, msg = http.StatusBadGateway, string(kind), "upstream dependency failed"
		}
	}

	_ = c.Error(err)
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
