package types

import (
	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New()

// AnalyzeRequest is the body of an analyze call.
type AnalyzeRequest struct {
	RawText  string `json:"raw_text" validate:"required"`
	Title    string `json:"title,omitempty" validate:"max=200"`
	Language string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// BatchAnalyzeRequest analyzes several labels in one call.
type BatchAnalyzeRequest struct {
	Items []AnalyzeRequest `json:"items" validate:"required,min=1,max=20,dive"`
}

// ChatRequest is the body of a chat message.
type ChatRequest struct {
	Message  string `json:"message" validate:"required,max=2000"`
	Language string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// UpdateProfileRequest replaces the caller's health profile.
type UpdateProfileRequest struct {
	Allergies          []string `json:"allergies" validate:"max=50,dive,min=1,max=100"`
	ChronicConditions  []string `json:"chronic_conditions" validate:"max=50,dive,min=1,max=100"`
	DietaryPreferences []string `json:"dietary_preferences" validate:"max=50,dive,min=1,max=100"`
}

// Profile converts the request into a normalized health profile.
func (r *UpdateProfileRequest) Profile() HealthProfile {
	return HealthProfile{
		Allergies:          r.Allergies,
		ChronicConditions:  r.ChronicConditions,
		DietaryPreferences: r.DietaryPreferences,
	}.Normalized()
}

// Validate validates the AnalyzeRequest using the validator.
func (r *AnalyzeRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the BatchAnalyzeRequest using the validator.
func (r *BatchAnalyzeRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ChatRequest using the validator.
func (r *ChatRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the UpdateProfileRequest using the validator.
func (r *UpdateProfileRequest) Validate() error {
	return validate.Struct(r)
}
