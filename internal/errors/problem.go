package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// RenderProblem writes pd as an application/problem+json response.
// go-chi/render forces application/json on everything it responds with,
// so problem responses bypass it.
func RenderProblem(w http.ResponseWriter, pd *ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}

// MarshalJSON flattens extension members into the problem object.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension member to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// InvalidRequest builds a 400 problem for request decode/validation failures.
func InvalidRequest(detail, instance, traceID string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		detail,
		instance,
	).WithExtension("trace_id", traceID).
		WithExtension("error_code", CodeValidationFailed)
}

// MapLicenseError maps domain errors to HTTP problem details. Unknown errors
// become opaque 500s so storage internals never leak to callers.
func MapLicenseError(err error, traceID string) *ProblemDetails {
	instance := fmt.Sprintf("/api/licenses#trace-%s", traceID)

	switch {
	case errors.Is(err, ErrMalformedKey):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/malformed-key",
			"Malformed License Key",
			"License key must be in format: XXXXC-XXXXC-XXXXC-XXXXC (uppercase letters and digits).",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeMalformedKey).
			WithExtension("expected_format", "XXXXC-XXXXC-XXXXC-XXXXC")

	case errors.Is(err, ErrChecksumMismatch):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/checksum-mismatch",
			"Invalid License Key",
			"The license key failed checksum validation.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeChecksumMismatch)

	case errors.Is(err, ErrLicenseNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/license-not-found",
			"License Not Found",
			"The specified license key was not found.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeLicenseNotFound)

	case errors.Is(err, ErrLicenseInactive):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-inactive",
			"License Inactive",
			"This license is suspended or cancelled and cannot be activated.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeLicenseInactive)

	case errors.Is(err, ErrLicenseExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-expired",
			"License Expired",
			"This license has expired. Please renew to continue.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeLicenseExpired)

	case errors.Is(err, ErrActivationLimitReached):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/activation-limit-reached",
			"Activation Limit Reached",
			"This license has reached its maximum number of activations.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeActivationLimitReached)

	case errors.Is(err, ErrHardwareBindingFailed):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/hardware-binding-failed",
			"Hardware Binding Failed",
			"This system is not permitted to activate the license under its binding configuration.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeHardwareBindingFailed)

	case errors.Is(err, ErrDuplicateKeyGeneration):
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/key-generation-exhausted",
			"Key Generation Failed",
			"Could not generate a unique license key. Please try again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeDuplicateKeyGeneration)

	case errors.Is(err, ErrActivationNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/activation-not-found",
			"Activation Not Found",
			"The specified activation was not found.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeActivationNotFound)

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodePersistenceError)
	}
}
