package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/examaccess/internal/service/codec"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("secret", validateSecret)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

// Return on 'TagName' json tag instead of struct name
// Look at documentation of 'RegisterTagNameFunc' for more details
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Accept strings that may be an access token secret
func validateSecret(fl validator.FieldLevel) bool {
	return codec.Valid(fl.Field().String())
}

// Var validates single value against the tag, e.g. path parameters
func Var(value any, tag string) error {
	return validate.Var(value, tag)
}
