package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// paymentLinks builds the customer-facing page for a deposit. Orders held by
// a non-durable backend get an opaque signed token instead of the bare id,
// pointing at the API's own GET /v1/pay/{token}.
type paymentLinks struct {
	base string
	key  []byte
}

func newPaymentLinks(base, key string) paymentLinks {
	return paymentLinks{base: strings.TrimRight(base, "/"), key: []byte(key)}
}

func (p paymentLinks) URL(orderID, backend string, durable bool) string {
	if durable || len(p.key) == 0 {
		return p.base + "/pay/" + orderID
	}
	return p.base + "/v1/pay/" + p.Token(orderID, backend)
}

// Token encodes orderID and backend with an HMAC-SHA256 tag.
func (p paymentLinks) Token(orderID, backend string) string {
	body := base64.RawURLEncoding.EncodeToString([]byte(orderID + "|" + backend))
	return body + "." + base64.RawURLEncoding.EncodeToString(p.sign(body))
}

// Parse returns the order id and backend carried by token.
func (p paymentLinks) Parse(token string) (orderID, backend string, err error) {
	body, tag, ok := strings.Cut(token, ".")
	if !ok || len(p.key) == 0 {
		return "", "", ErrInvalidPaymentLink
	}
	got, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil || !hmac.Equal(got, p.sign(body)) {
		return "", "", ErrInvalidPaymentLink
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", "", ErrInvalidPaymentLink
	}
	orderID, backend, ok = strings.Cut(string(raw), "|")
	if !ok || orderID == "" {
		return "", "", ErrInvalidPaymentLink
	}
	return orderID, backend, nil
}

func (p paymentLinks) sign(body string) []byte {
	h := hmac.New(sha256.New, p.key)
	h.Write([]byte(body))
	return h.Sum(nil)
}
