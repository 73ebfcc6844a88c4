package transport

import (
	"reflect"
	"sync"

	gpvalidator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	v   *gpvalidator.Validate
	mut sync.Mutex
)

// initValidator builds the validator singleton. Decimals validate as float64
// so numeric tags like gt=0 apply to them.
func initValidator() *gpvalidator.Validate {
	mut.Lock()
	defer mut.Unlock()
	if v != nil {
		return v
	}
	v = gpvalidator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validateStruct validates a request DTO with go-playground/validator
func validateStruct(s interface{}) error {
	return initValidator().Struct(s)
}
