package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/fee"
	"github.com/fairyhunter13/parking-session-engine/internal/plate"
)

// New creates a new validator instance with custom validations registered.
// This ensures consistent validation across the application and tests.
func New() *validator.Validate {
	v := validator.New()

	// Register custom "notblank" validator - rejects whitespace-only strings
	// This is used for fields like user ids that must have meaningful content
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, let other validators handle it
		}
		return strings.TrimSpace(str) != ""
	})

	// "plate" accepts anything that normalizes to a usable plate, so "abc-1d23" passes
	_ = v.RegisterValidation("plate", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		_, err := plate.Parse(str)
		return err == nil
	})

	// "money" accepts a plain decimal rate written with a dot that fits NUMERIC(10, 4)
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		str = strings.TrimSpace(str)
		if strings.ContainsAny(str, "eE") {
			return false
		}
		d, err := decimal.NewFromString(str)
		return err == nil && fee.ValidateRate(d) == nil
	})

	return v
}
