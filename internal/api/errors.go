package api

import (
	"encoding/json"
	"net/http"

	"github.com/soaringjerry/pricecrowd/internal/middleware"
	"github.com/soaringjerry/pricecrowd/internal/services"
	"github.com/soaringjerry/pricecrowd/internal/utils"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorNotAuthorized, services.ErrorNotRegistered:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorAlreadyRegistered, services.ErrorCapacityExceeded,
		services.ErrorSessionClosed, services.ErrorAlreadyEnded, services.ErrorNoProposals:
		return http.StatusConflict
	case services.ErrorSessionExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders service errors with a localized message and the
// precondition text as detail. Anything else is logged and hidden.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	se, ok := services.AsServiceError(err)
	if !ok {
		rt.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]errorBody{"error": {
			Code:    "internal",
			Message: utils.T(locale, "error.internal"),
		}})
		return
	}
	writeJSON(w, statusFor(se.Code), map[string]errorBody{"error": {
		Code:    string(se.Code),
		Message: utils.T(locale, "error."+string(se.Code)),
		Detail:  se.Message,
	}})
}
