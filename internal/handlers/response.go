package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response. Validation errors are
// expanded into per-field details.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	errorResp := ErrorResponse{Error: message}

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	writeJSON(w, statusCode, errorResp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeBody reads exactly one JSON object into dst and validates it.
// It writes the error response itself and reports whether decoding succeeded.
func (vh *ValidationHelper) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := vh.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
