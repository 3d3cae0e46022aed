package qr

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	// CRC-16/CCITT-FALSE check value
	assert.Equal(t, uint16(0x29B1), crc16("123456789"))
}

func TestBuildPayload(t *testing.T) {
	payload, err := BuildPayload("970436", "0071000888999", 150000, "PGO20260307ABC1234")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(payload, "000201010212"))
	assert.Contains(t, payload, "0010A000000727")
	assert.Contains(t, payload, "0006970436")
	assert.Contains(t, payload, "01130071000888999")
	assert.Contains(t, payload, "0208QRIBFTTA")
	assert.Contains(t, payload, "5303704")
	assert.Contains(t, payload, "5406150000")
	assert.Contains(t, payload, "5802VN")
	assert.Contains(t, payload, "62220818PGO20260307ABC1234")

	body, sum := payload[:len(payload)-4], payload[len(payload)-4:]
	assert.True(t, strings.HasSuffix(body, "6304"))
	assert.Equal(t, sum, strings.ToUpper(sum))
	assert.Len(t, sum, 4)
	assert.Equal(t, crc16(body), mustHex(t, sum))
}

func TestBuildPayloadStaticWithoutAmount(t *testing.T) {
	payload, err := BuildPayload("970436", "12345", 0, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "000201010211"))
	assert.NotContains(t, payload, "5406")
}

func TestBuildPayloadRequiresRouting(t *testing.T) {
	_, err := BuildPayload("", "12345", 100, "x")
	assert.Error(t, err)
}

func mustHex(t *testing.T, s string) uint16 {
	t.Helper()
	var v uint16
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint16(c - '0')
		case c >= 'A' && c <= 'F':
			v |= uint16(c-'A') + 10
		default:
			t.Fatalf("bad hex %q", s)
		}
	}
	return v
}

func TestResolveLocalDataURI(t *testing.T) {
	r := NewResolver(Config{Method: MethodLocal, ServiceURL: "https://img.vietqr.io"})
	got := r.Resolve(context.Background(), Request{
		Kind: domain.KindDeposit, BankBIN: "970436", AccountNumber: "0071000888999",
		Amount: 150000, OrderID: "PGO20260307ABC1234",
	})
	require.NotNil(t, got)
	require.True(t, strings.HasPrefix(*got, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(*got, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestResolveFallsBackToRemote(t *testing.T) {
	r := NewResolver(Config{Method: MethodLocal, ServiceURL: "https://img.vietqr.io/", Template: "compact2"})
	r.encode = func(string, int) ([]byte, error) { return nil, errors.New("boom") }

	got := r.Resolve(context.Background(), Request{
		Kind: domain.KindWithdraw, BankBIN: "970436", AccountNumber: "0123456789",
		Amount: 250000, OrderID: "RDS20260307XYZ9876",
	})
	require.NotNil(t, got)
	assert.Equal(t, "https://img.vietqr.io/image/970436-0123456789-compact2.png?amount=250000&addInfo=RDS20260307XYZ9876", *got)
}

func TestResolveRemoteWithAccountName(t *testing.T) {
	r := NewResolver(Config{Method: MethodRemote, ServiceURL: "https://img.vietqr.io"})
	got := r.Resolve(context.Background(), Request{
		BankBIN: "970436", AccountNumber: "0123456789", AccountName: "NGUYEN VAN A",
		Amount: 1000, OrderID: "PGO20260307ABC1234",
	})
	require.NotNil(t, got)
	assert.Equal(t, "https://img.vietqr.io/image/970436-0123456789-compact2.png?amount=1000&addInfo=PGO20260307ABC1234&accountName=NGUYEN+VAN+A", *got)
}

func TestResolveMissingRoutingReturnsNil(t *testing.T) {
	r := NewResolver(Config{Method: MethodLocal})
	assert.Nil(t, r.Resolve(context.Background(), Request{AccountNumber: "123"}))
	assert.Nil(t, r.Resolve(context.Background(), Request{BankBIN: "970436"}))
}
