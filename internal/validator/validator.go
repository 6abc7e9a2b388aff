package validator

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"donation-service/internal/domain"
)

var (
	ErrEmptyEmail           = errors.New("email is empty")
	ErrInvalidEmailFormat   = errors.New("invalid email format")
	ErrEmptyName            = errors.New("name is empty")
	ErrEmptyAddress         = errors.New("address is empty")
	ErrInvalidPostalCode    = errors.New("postal code must be 7 digits")
	ErrInvalidAmount        = errors.New("amount must be greater than 0")
	ErrUnknownAmountOption  = errors.New("unknown amount option")
	ErrUnknownPurpose       = errors.New("unknown donation purpose")
	ErrUnknownCondition     = errors.New("unknown condition")
	ErrEmptyConditionDetail = errors.New("condition detail is empty")
	ErrMissingDate          = errors.New("application date is empty")
)

// ValidationError reports which form field failed and why.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Field wraps err as a *ValidationError for field. It returns nil for a nil err.
func Field(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Err: err}
}

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	postalCodeRegex = regexp.MustCompile(`^[0-9]{7}$`)
)

func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmailFormat
	}
	return nil
}

// NormalizePostalCode drops hyphens and surrounding space so "819-0395" and "8190395" compare equal.
func NormalizePostalCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), "-", "")
}

func ValidatePostalCode(code string) error {
	if !postalCodeRegex.MatchString(NormalizePostalCode(code)) {
		return ErrInvalidPostalCode
	}
	return nil
}

func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return nil
}

func ValidateAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return ErrEmptyAddress
	}
	return nil
}

func ValidateAmount(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func ValidatePurpose(purpose string, allowed []string) error {
	if !slices.Contains(allowed, purpose) {
		return ErrUnknownPurpose
	}
	return nil
}

func ValidateCondition(condition domain.Condition, detail string) error {
	switch condition {
	case domain.ConditionNone:
		return nil
	case domain.ConditionPresent:
		if strings.TrimSpace(detail) == "" {
			return ErrEmptyConditionDetail
		}
		return nil
	default:
		return ErrUnknownCondition
	}
}

// ValidateFormInput checks everything that must hold before a submission may be confirmed.
// The first failing field is returned as a *ValidationError.
func ValidateFormInput(in domain.FormInput, purposes []string) error {
	if in.Date.IsZero() {
		return Field("date", ErrMissingDate)
	}
	if err := ValidateName(in.Name); err != nil {
		return Field("name", err)
	}
	if err := ValidatePostalCode(in.PostalCode); err != nil {
		return Field("postal_code", err)
	}
	if err := ValidateAddress(in.Address1); err != nil {
		return Field("address1", err)
	}
	if err := ValidateEmail(in.Email); err != nil {
		return Field("email", err)
	}
	if err := ValidatePurpose(in.Purpose, purposes); err != nil {
		return Field("purpose", err)
	}
	if err := ValidateCondition(in.Condition, in.ConditionDetail); err != nil {
		return Field("condition_detail", err)
	}
	return nil
}
