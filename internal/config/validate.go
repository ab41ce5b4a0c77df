package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func
	_ = validate.RegisterValidation("pow2", isPowerOfTwo)
}

func isPowerOfTwo(fl validator.FieldLevel) bool {
	n := fl.Field().Int()
	return n > 0 && n&(n-1) == 0
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatValidationMessage(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatValidationMessage(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "pow2":
		return fmt.Sprintf("%s must be a power of two (got %v)", field, e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %v)", field, e.Param(), e.Value())
	case "eq":
		return fmt.Sprintf("%s must be %s (got %v)", field, e.Param(), e.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port (got %v)", field, e.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, e.Tag(), e.Param(), e.Value())
	}
}
