package domain

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// A single instance caches struct information.
var validatorInstance = validator.New()

func init() {
	_ = validatorInstance.RegisterValidation("notblank", validateNotBlank)
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
