// Package validation validates component and map definition documents before
// they reach the registry. It combines struct-level validation
// (go-playground/validator tags on the models) with business rules the tags
// cannot express: duplicate identifiers, action hint values, selector and
// timing constraints.
//
// # Usage Example
//
//	validator := validation.New()
//	result, err := validator.ValidateComponent(jsonData)
//	if err != nil {
//	    // Handle error
//	}
//	if !result.Valid {
//	    for _, err := range result.Errors {
//	        fmt.Printf("%s: %s\n", err.Field, err.Message)
//	    }
//	}
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cartograph-io/cartograph/models"
	"github.com/go-playground/validator/v10"
)

// externalIDPattern restricts author-facing identifiers to a form that is safe
// in URLs and definition files.
var externalIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

// Validator validates components and map definitions. It is safe for
// concurrent use.
type Validator struct {
	// structValidator checks the validate tags on the model structs
	structValidator *validator.Validate
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the name of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
// It indicates whether validation passed and includes any errors found.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new Validator instance ready to validate components and map
// definitions.
func New() *Validator {
	return &Validator{
		structValidator: validator.New(),
	}
}

// ValidateComponent validates a component JSON document.
func (v *Validator) ValidateComponent(data []byte) (*ValidationResult, error) {
	var component models.Component

	if err := json.Unmarshal(data, &component); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "document",
					Message: fmt.Sprintf("Invalid JSON: %v", err),
				},
			},
		}, nil
	}

	allErrors := v.structErrors(&component)
	allErrors = append(allErrors, v.validateComponentFields(component.ExternalID, &component.Config)...)

	return &ValidationResult{
		Valid:  len(allErrors) == 0,
		Errors: allErrors,
	}, nil
}

// ValidateDefinition validates a parsed map definition: every entry must be a
// valid component and external identifiers must be unique within the map.
func (v *Validator) ValidateDefinition(def *models.MapDefinition) (*ValidationResult, error) {
	var allErrors []ValidationError

	allErrors = append(allErrors, v.structErrors(def)...)

	seen := make(map[string]bool, len(def.Components))
	for i := range def.Components {
		entry := &def.Components[i]
		prefix := fmt.Sprintf("components[%d]", i)

		if entry.ExternalID != "" && seen[entry.ExternalID] {
			allErrors = append(allErrors, ValidationError{
				Field:   prefix + ".id",
				Message: "Duplicate component id within the map",
				Value:   entry.ExternalID,
			})
		}
		seen[entry.ExternalID] = true

		for _, fieldErr := range v.validateComponentFields(entry.ExternalID, &entry.Config) {
			fieldErr.Field = prefix + "." + fieldErr.Field
			allErrors = append(allErrors, fieldErr)
		}
	}

	return &ValidationResult{
		Valid:  len(allErrors) == 0,
		Errors: allErrors,
	}, nil
}

// structErrors runs tag validation and converts the result to field errors.
func (v *Validator) structErrors(doc interface{}) []ValidationError {
	err := v.structValidator.Struct(doc)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{
			Field:   "document",
			Message: err.Error(),
		}}
	}

	var errors []ValidationError
	for _, fe := range fieldErrs {
		errors = append(errors, ValidationError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("Failed validation on '%s'", fe.Tag()),
			Value:   fe.Value(),
		})
	}
	return errors
}

// validateComponentFields checks the business rules the struct tags cannot
// express, shared by stored components and definition entries. Missing
// required fields are reported by the tag validation, not here.
func (v *Validator) validateComponentFields(externalID string, cfg *models.ComponentConfig) []ValidationError {
	var errors []ValidationError

	if externalID != "" && !externalIDPattern.MatchString(externalID) {
		errors = append(errors, ValidationError{
			Field:   "externalId",
			Message: "External id must be lowercase alphanumeric with '.', '_' or '-' separators",
			Value:   externalID,
		})
	}

	checkNames := make(map[string]bool, len(cfg.Checks))
	for i, check := range cfg.Checks {
		if check.Name == "" {
			continue
		}
		if checkNames[check.Name] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.checks[%d].name", i),
				Message: "Duplicate check name",
				Value:   check.Name,
			})
		}
		checkNames[check.Name] = true

		if check.Interval < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.checks[%d].interval", i),
				Message: "Check interval cannot be negative",
				Value:   check.Interval.String(),
			})
		}
	}

	actionNames := make(map[string]bool, len(cfg.Actions))
	for i, action := range cfg.Actions {
		if action.Name == "" {
			continue
		}
		if actionNames[action.Name] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.actions[%d].name", i),
				Message: "Duplicate action name",
				Value:   action.Name,
			})
		}
		actionNames[action.Name] = true

		switch action.TransitionalHint {
		case "", models.StatusStarting, models.StatusStopping:
		default:
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.actions[%d].transitionalHint", i),
				Message: fmt.Sprintf("Transitional hint must be one of: %s",
					strings.Join([]string{string(models.StatusStarting), string(models.StatusStopping)}, ", ")),
				Value: string(action.TransitionalHint),
			})
		}

		if action.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.actions[%d].timeout", i),
				Message: "Action timeout cannot be negative",
				Value:   action.Timeout.String(),
			})
		}
	}

	depSeen := make(map[string]bool, len(cfg.DependsOn))
	for i, dep := range cfg.DependsOn {
		if dep == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.dependsOn[%d]", i),
				Message: "Dependency id cannot be empty",
			})
			continue
		}
		if dep == externalID {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.dependsOn[%d]", i),
				Message: "Component cannot depend on itself",
				Value:   dep,
			})
		}
		if depSeen[dep] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("config.dependsOn[%d]", i),
				Message: "Duplicate dependency",
				Value:   dep,
			})
		}
		depSeen[dep] = true
	}

	if cfg.AgentSelector.AgentID == "" {
		for key, value := range cfg.AgentSelector.Labels {
			if key == "" || value == "" {
				errors = append(errors, ValidationError{
					Field:   "config.agentSelector.labels",
					Message: "Selector labels cannot have empty keys or values",
				})
				break
			}
		}
	}

	return errors
}
