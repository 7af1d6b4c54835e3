package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single validation problem with location context.
// Path is a dotted location inside the definition, or a step ID.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates the issues found by the validation pipeline.
// Warnings never make a definition invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the definition may be executed.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an issue that blocks execution.
func (r *ValidationResult) AddError(path, code, message string) {
	r.add(path, code, message, SeverityError)
}

// AddWarning records an advisory issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(path, code, message, SeverityWarning)
}

func (r *ValidationResult) add(path, code, message string, sev ValidationSeverity) {
	issue := ValidationIssue{Path: path, Code: code, Message: message, Severity: sev}
	if sev == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	r.Errors = append(r.Errors, issue)
}

// Merge folds another result's issues into this one. A nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns a VALIDATION_ERROR carrying every issue, or nil when the
// result is valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].Message
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", n)
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
