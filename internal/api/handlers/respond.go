package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "klips/internal/api/context"
	"klips/internal/api/middleware"
	"klips/internal/pkg/errors"
	"klips/internal/pkg/validator"
	"klips/internal/platform/auth"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// decodeBody reads a JSON request body. An empty body decodes to the zero
// value. It writes the 400 itself and reports false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || stderrors.Is(err, io.EOF) {
		return true
	}
	errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
	return false
}

// writeFieldError answers 400 when err is a field validation failure.
func writeFieldError(w http.ResponseWriter, err error) bool {
	var fe *validator.FieldError
	if !stderrors.As(err, &fe) {
		return false
	}
	errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, fe.Error(), errors.FieldDetails(fe.Field, fe.Reason))
	return true
}

func writeInternal(w http.ResponseWriter, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, msg, nil)
}

func param(r *http.Request, name string) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(apiContext.Claims).(*auth.Claims)
	return claims
}

func tenantID(r *http.Request) string {
	if t := middleware.Tenant(r.Context()); t != nil {
		return t.OrgID
	}
	return ""
}
