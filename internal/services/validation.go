package services

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	memberIDPattern = regexp.MustCompile(`^[A-Fa-f0-9]{8}(-[A-Fa-f0-9]{4}){3}-[A-Fa-f0-9]{12}$`)
	isbnPattern     = regexp.MustCompile(`^[0-9][0-9-]*[0-9]$`)
	namePattern     = regexp.MustCompile(`^[A-Za-z ]+$`)
	contactPattern  = regexp.MustCompile(`^\d{3}-\d{7}$`)
	addressPattern  = regexp.MustCompile(`^[A-Za-z0-9,.:;/\- ]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	patterns := map[string]*regexp.Regexp{
		"member_id":      memberIDPattern,
		"isbn":           isbnPattern,
		"member_name":    namePattern,
		"member_contact": contactPattern,
		"member_address": addressPattern,
	}
	for tag, pattern := range patterns {
		pattern := pattern
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return pattern.MatchString(fl.Field().String())
		}); err != nil {
			panic(err)
		}
	}

	return v
}

// rule is one check of an ordered rule list
type rule struct {
	value   interface{}
	tag     string
	message string
}

// firstViolation applies rules in order and reports the first that fails
func firstViolation(rules []rule) error {
	for _, r := range rules {
		if err := validate.Var(r.value, r.tag); err != nil {
			return NewValidationError(r.message)
		}
	}
	return nil
}

// IsValidMemberID checks the canonical 8-4-4-4-12 hex UUID form
func IsValidMemberID(id string) bool {
	return memberIDPattern.MatchString(id)
}

// IsValidISBN checks digits and hyphens, starting and ending with a digit
func IsValidISBN(isbn string) bool {
	return isbnPattern.MatchString(isbn)
}
