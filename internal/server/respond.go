package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"carrec/internal/logging"
)

type envelope struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata metadata  `json:"metadata"`
	Error    *apiError `json:"error,omitempty"`
}

type metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, &envelope{Status: "success", Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	write(w, status, &envelope{Status: "error", Error: &apiError{Code: code, Message: message}})
}

func respondValidation(w http.ResponseWriter, err error) {
	apiErr := &apiError{Code: "validation_error", Message: "request failed validation"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apiErr.Details = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			apiErr.Details[fieldPath(fe)] = validationMessage(fe)
		}
	} else {
		apiErr.Message = err.Error()
	}
	write(w, http.StatusBadRequest, &envelope{Status: "error", Error: apiErr})
}

func write(w http.ResponseWriter, status int, env *envelope) {
	env.Metadata = metadata{Timestamp: time.Now().UTC(), RequestID: w.Header().Get("X-Request-ID")}
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// jsonFieldName makes validation errors speak the wire names.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must have at most " + fe.Param() + " characters or items"
	case "gtefield":
		return "must not be less than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
