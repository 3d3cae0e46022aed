package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// OrderIDPrefixLen is the width of the backend prefix.
const OrderIDPrefixLen = 3

const (
	orderIDSuffixLen = 7
	orderIDAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{3}[0-9]{8}[A-Z0-9]{7}$`)

// OrderIDGenerator produces <prefix><YYYYMMDD><7 upper-alnum> identifiers.
type OrderIDGenerator struct {
	now func() time.Time
}

func NewOrderIDGenerator() *OrderIDGenerator {
	return &OrderIDGenerator{now: time.Now}
}

// WithClock overrides the time source.
func (g *OrderIDGenerator) WithClock(now func() time.Time) *OrderIDGenerator {
	g.now = now
	return g
}

// Generate returns a new order id for the given three character prefix.
func (g *OrderIDGenerator) Generate(prefix string) (string, error) {
	if len(prefix) != OrderIDPrefixLen {
		return "", fmt.Errorf("order id prefix must be %d characters, got %q", OrderIDPrefixLen, prefix)
	}

	var sb strings.Builder
	sb.Grow(OrderIDPrefixLen + 8 + orderIDSuffixLen)
	sb.WriteString(prefix)
	sb.WriteString(g.now().UTC().Format("20060102"))

	limit := big.NewInt(int64(len(orderIDAlphabet)))
	for i := 0; i < orderIDSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random suffix: %w", err)
		}
		sb.WriteByte(orderIDAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// ValidOrderID reports whether id has the fixed-width order id shape.
func ValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}

// ErrMalformedOrderID is returned for ids that do not have the order id shape.
var ErrMalformedOrderID = errors.New("malformed order id")

// ParseOrderID splits a well-formed id into its prefix and issue date.
func ParseOrderID(id string) (prefix string, day time.Time, err error) {
	if !ValidOrderID(id) {
		return "", time.Time{}, ErrMalformedOrderID
	}
	day, err = time.Parse("20060102", id[OrderIDPrefixLen:OrderIDPrefixLen+8])
	if err != nil {
		return "", time.Time{}, ErrMalformedOrderID
	}
	return id[:OrderIDPrefixLen], day, nil
}

// OrderIDPrefix returns the backend prefix of a well-formed order id.
func OrderIDPrefix(id string) (string, error) {
	prefix, _, err := ParseOrderID(id)
	return prefix, err
}
