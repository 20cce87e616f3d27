package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/skillswap/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("swapstatus", validateSwapStatus)
	v.RegisterTagNameFunc(useJSONTagNames)
	return v
}

// Report fields by their json names
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateSwapStatus(fl validator.FieldLevel) bool {
	return models.SwapStatus(fl.Field().String()).Valid()
}
