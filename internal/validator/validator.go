package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New creates a validator with the storefront's custom rules registered.
// Handlers and tests must share it so request DTOs validate the same way.
func New() *validator.Validate {
	v := validator.New()

	// "notblank" rejects whitespace-only strings such as "   " for product refs and coupon codes.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		return strings.TrimSpace(str) != ""
	})

	// Money fields are compared as numbers, so gte/lte work on decimal.Decimal.
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	return v
}

func decimalValue(field reflect.Value) any {
	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	return f
}
