// Package qr turns bank routing data into a scannable transfer code.
package qr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Method selects how the code is produced.
type Method string

const (
	MethodLocal  Method = "local"
	MethodRemote Method = "remote"
)

type Request struct {
	Kind          domain.OrderKind
	BankBIN       string
	AccountNumber string
	AccountName   string
	Amount        int64
	OrderID       string
	// Method overrides the resolver default when set.
	Method Method
}

type Config struct {
	Method     Method
	ServiceURL string
	Template   string
	Size       int
}

// Resolver builds a QR for an order. Local rendering failures fall back to
// the templated image URL.
type Resolver struct {
	cfg    Config
	encode func(content string, size int) ([]byte, error)
}

func NewResolver(cfg Config) *Resolver {
	if cfg.Template == "" {
		cfg.Template = "compact2"
	}
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	cfg.ServiceURL = strings.TrimRight(cfg.ServiceURL, "/")
	return &Resolver{cfg: cfg, encode: encodePNG}
}

func encodePNG(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}

// Resolve returns a data URI or image URL, or nil when the request carries no
// routing data. It never fails.
func (r *Resolver) Resolve(_ context.Context, req Request) *string {
	if req.BankBIN == "" || req.AccountNumber == "" {
		return nil
	}
	method := req.Method
	if method == "" {
		method = r.cfg.Method
	}
	if method == MethodLocal {
		uri, err := r.local(req)
		if err == nil {
			return &uri
		}
		zap.L().Warn("local qr rendering failed, using remote template",
			zap.String("order_id", req.OrderID), zap.Error(err))
	}
	remote := r.RemoteURL(req)
	return &remote
}

func (r *Resolver) local(req Request) (string, error) {
	payload, err := BuildPayload(req.BankBIN, req.AccountNumber, req.Amount, req.OrderID)
	if err != nil {
		return "", err
	}
	png, err := r.encode(payload, r.cfg.Size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// RemoteURL renders the image service URL for req.
func (r *Resolver) RemoteURL(req Request) string {
	var sb strings.Builder
	sb.WriteString(r.cfg.ServiceURL)
	sb.WriteString("/image/")
	sb.WriteString(url.PathEscape(req.BankBIN))
	sb.WriteByte('-')
	sb.WriteString(url.PathEscape(req.AccountNumber))
	sb.WriteByte('-')
	sb.WriteString(url.PathEscape(r.cfg.Template))
	sb.WriteString(".png?amount=")
	sb.WriteString(strconv.FormatInt(req.Amount, 10))
	sb.WriteString("&addInfo=")
	sb.WriteString(url.QueryEscape(req.OrderID))
	if req.AccountName != "" {
		sb.WriteString("&accountName=")
		sb.WriteString(url.QueryEscape(req.AccountName))
	}
	return sb.String()
}
