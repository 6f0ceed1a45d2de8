package predict

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Request is the raw user input for one prediction
type Request struct {
	Blurb   string          `form:"blurb" validate:"required"`
	Backers int64           `form:"backers" validate:"gte=0"`
	Goal    decimal.Decimal `form:"goal" validate:"amount,gt=0,lte=1000000000000"`
}

const (
	// MaxGoalInput bounds the length of a goal as typed by the user
	MaxGoalInput = 64

	maxGoalExponent = 40
	maxGoalBits     = 256
)

// ParseGoal parses a user-supplied funding goal. Exponent forms such as
// 1e30 are accepted but the value must stay within the bounds Validate checks.
func ParseGoal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxGoalInput {
		return decimal.Decimal{}, fmt.Errorf("goal longer than %d characters", MaxGoalInput)
	}
	return decimal.NewFromString(raw)
}

// amountFloat converts d to a float64 without expanding huge exponents.
// Values outside the representable range come back as NaN.
func amountFloat(d decimal.Decimal) float64 {
	exp := d.Exponent()
	if exp > maxGoalExponent || exp < -maxGoalExponent || d.Coefficient().BitLen() > maxGoalBits {
		return math.NaN()
	}
	return d.InexactFloat64()
}

// ValidationError lists per-field problems with a request, keyed by form field name
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Add records a problem with field, keeping the first message
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return amountFloat(d)
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}

// Normalize trims surrounding whitespace from the blurb
func (r Request) Normalize() Request {
	r.Blurb = strings.TrimSpace(r.Blurb)
	return r
}

// Validate checks the request after normalization
func (r Request) Validate() error {
	err := validate.Struct(r.Normalize())
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "amount":
		return "is not a representable amount"
	}
	return "is invalid"
}
