package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrorBody is the payload under the "error" key.
type ErrorBody struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Entity   string   `json:"entity,omitempty"`
	EntityID string   `json:"entity_id,omitempty"`
	Field    string   `json:"field,omitempty"`
	Fields   []string `json:"fields,omitempty"`
	Hint     string   `json:"hint,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondError maps classified errors to their HTTP status. Unclassified errors are logged
// in full and returned as a generic INTERNAL_ERROR.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	appErr, ok := shared.AsError(err)
	if !ok || appErr.Kind == shared.KindInternal {
		if logger != nil {
			logger.Error("internal error",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		JSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{
			Code:    shared.CodeInternal,
			Message: "internal server error",
		}})
		return
	}
	JSON(w, appErr.Kind.HTTPStatus(), ErrorResponse{Error: ErrorBody{
		Code:     appErr.Code,
		Message:  appErr.Message,
		Entity:   appErr.Entity,
		EntityID: appErr.EntityID,
		Field:    appErr.Field,
		Fields:   appErr.Fields,
		Hint:     appErr.Hint,
	}})
}
