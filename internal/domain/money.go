package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountDigits bounds the integer part of an order amount.
const MaxAmountDigits = 13

var (
	ErrAmountRequired = errors.New("amount is required")
	ErrAmountInvalid  = errors.New("amount must be numeric")
	ErrAmountTooLarge = fmt.Errorf("amount must have at most %d digits", MaxAmountDigits)
	ErrAmountNotPos   = errors.New("amount must be greater than zero")
)

var maxAmount = decimal.New(1, MaxAmountDigits)

// ParseAmount converts a raw JSON amount (number or numeric string) into the
// smallest currency unit, flooring any fractional part.
func ParseAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, ErrAmountRequired
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, ErrAmountInvalid
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return 0, ErrAmountRequired
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrAmountInvalid
	}
	d = d.Floor()
	if !d.IsPositive() {
		return 0, ErrAmountNotPos
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return 0, ErrAmountTooLarge
	}
	return d.IntPart(), nil
}
