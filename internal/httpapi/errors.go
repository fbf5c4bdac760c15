package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errInvalidPayload = errors.New("invalid request payload")

func statusForError(err error) (int, compliance.ErrorKind) {
	if errors.Is(err, errInvalidPayload) {
		return http.StatusBadRequest, compliance.KindValidationFailed
	}
	kind := compliance.KindOf(err)
	switch kind {
	case compliance.KindNotFound:
		return http.StatusNotFound, kind
	case compliance.KindValidationFailed, compliance.KindBusinessRuleViolation:
		return http.StatusBadRequest, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, kind := statusForError(err)
	handler.writeError(ctx, err, status, kind)
}

// respondBankingError reports a missing compliance balance on banking writes as a bad request.
func (handler *httpHandler) respondBankingError(ctx *gin.Context, err error) {
	status, kind := statusForError(err)
	if kind == compliance.KindNotFound {
		status = http.StatusBadRequest
	}
	handler.writeError(ctx, err, status, kind)
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error, status int, kind compliance.ErrorKind) {
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("path", ctx.Request.URL.Path),
			zap.String("error_kind", string(kind)),
			zap.Error(err),
		)
	}
	ctx.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Code: string(kind)})
}
