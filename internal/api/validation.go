package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=200"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CreateTunnelRequest is the body of POST /api/tunnels.
type CreateTunnelRequest struct {
	Subdomain    string `json:"subdomain" validate:"omitempty,min=3,max=30"`
	TargetPort   int    `json:"target_port" validate:"required,min=1,max=65535"`
	Protocol     string `json:"protocol" validate:"omitempty,oneof=http tcp"`
	IsPersistent bool   `json:"is_persistent"`
}

// CreateAPIKeyRequest is the body of POST /api/keys.
type CreateAPIKeyRequest struct {
	Name   string   `json:"name" validate:"required,min=1,max=100"`
	Scopes []string `json:"scopes"`
}

// ValidationError is one struct-tag failure, translated to a
// human-readable message.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validateRequest runs the validator and formats any failures.
func validateRequest(req interface{}) []ValidationError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "_", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, ValidationError{Field: e.Field(), Message: formatValidationError(e)})
	}
	return out
}

func formatValidationError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

// decodeAndValidate decodes r's JSON body into req and validates it,
// writing a response and returning false on any failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	if errs := validateRequest(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return false
	}
	return true
}
