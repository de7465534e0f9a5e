// Package intent turns free-text purchase requests into structured buy
// intents.
//
// Parsing favours precision over recall: text without a buy trigger yields
// nil rather than a guess, while a missing amount or currency falls back to
// [DefaultAmount] and [DefaultCurrency].
package intent

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ShippingSpeed selects the delivery tier.
type ShippingSpeed string

const (
	ShippingStandard ShippingSpeed = "standard"
	ShippingExpress  ShippingSpeed = "express"
)

// ActionBuy is the only action the parser emits.
const ActionBuy = "buy"

const (
	DefaultAmount   = 100.0
	DefaultCurrency = "USD"
	DefaultItem     = "Item"
)

// Intent is the structured form of one purchase utterance.
type Intent struct {
	Action        string        `json:"action" validate:"required,eq=buy"`
	Item          string        `json:"item" validate:"required"`
	Amount        float64       `json:"amount" validate:"gte=0"`
	Currency      string        `json:"currency" validate:"required,len=3,uppercase"`
	ShippingSpeed ShippingSpeed `json:"shippingSpeed" validate:"required,oneof=standard express"`
	Vendor        string        `json:"vendor,omitempty"`
}

var validate = newValidator()

// Validate checks an intent assembled outside of [Parse], for example one
// decoded from an API request.
func (in Intent) Validate() error {
	if err := validate.Struct(in); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fe := validationErrs[0]
			return fmt.Errorf("intent.%s failed %s validation", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}
