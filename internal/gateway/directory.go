// Package gateway talks to the external bank directory that lists the banks
// withdrawals may be paid out to.
package gateway

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

//go:embed banks.json
var staticBanks []byte

var (
	// ErrUnsupportedBank is returned when a bank code is not in the directory.
	ErrUnsupportedBank = errors.New("bank is not supported")
	// ErrDirectoryUnavailable wraps models.ErrStorageUnavailable so callers
	// can treat it as a retryable dependency failure.
	ErrDirectoryUnavailable = fmt.Errorf("bank directory unavailable: %w", models.ErrStorageUnavailable)
)

// BankInfo is one directory entry.
type BankInfo struct {
	Code      string `json:"code"`
	BIN       string `json:"bin"`
	ShortName string `json:"shortName"`
	Name      string `json:"name"`
}

// DisplayName prefers the short brand name.
func (b BankInfo) DisplayName() string {
	if b.ShortName != "" {
		return b.ShortName
	}
	return b.Name
}

// Directory resolves a bank code, BIN or short name to a supported bank.
type Directory interface {
	Lookup(ctx context.Context, code string) (BankInfo, error)
}

type index map[string]BankInfo

func buildIndex(banks []BankInfo) index {
	idx := make(index, len(banks)*3)
	for _, b := range banks {
		for _, k := range []string{b.Code, b.BIN, b.ShortName} {
			if k != "" {
				idx[strings.ToUpper(k)] = b
			}
		}
	}
	return idx
}

func (idx index) lookup(code string) (BankInfo, error) {
	b, ok := idx[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return BankInfo{}, fmt.Errorf("%q: %w", code, ErrUnsupportedBank)
	}
	return b, nil
}

// StaticDirectory serves the bank list compiled into the binary.
type StaticDirectory struct {
	idx index
}

func NewStaticDirectory() *StaticDirectory {
	var banks []BankInfo
	if err := json.Unmarshal(staticBanks, &banks); err != nil {
		panic(fmt.Sprintf("decode embedded bank list: %v", err))
	}
	return &StaticDirectory{idx: buildIndex(banks)}
}

func (d *StaticDirectory) Lookup(_ context.Context, code string) (BankInfo, error) {
	return d.idx.lookup(code)
}

// HTTPDirectory fetches the bank list from a remote API and caches it for ttl.
// A failed refresh keeps serving the previous list. Without any list it
// defers to fallback, or fails with ErrDirectoryUnavailable when fallback is nil.
type HTTPDirectory struct {
	client   *http.Client
	url      string
	ttl      time.Duration
	fallback Directory
	now      func() time.Time

	refresh   singleflight.Group
	mu        sync.Mutex
	idx       index
	fetchedAt time.Time
}

func NewHTTPDirectory(client *http.Client, url string, ttl time.Duration, fallback Directory) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPDirectory{client: client, url: url, ttl: ttl, fallback: fallback, now: time.Now}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, code string) (BankInfo, error) {
	idx, err := d.current(ctx)
	if err != nil {
		if d.fallback != nil {
			return d.fallback.Lookup(ctx, code)
		}
		return BankInfo{}, err
	}
	return idx.lookup(code)
}

// current returns the cached index, refreshing it when stale. Concurrent
// refreshes collapse into one request made without holding d.mu.
func (d *HTTPDirectory) current(ctx context.Context) (index, error) {
	d.mu.Lock()
	idx, fresh := d.idx, d.idx != nil && d.now().Sub(d.fetchedAt) < d.ttl
	d.mu.Unlock()
	if fresh {
		return idx, nil
	}

	v, err, _ := d.refresh.Do("banks", func() (any, error) {
		banks, err := d.fetch(ctx)
		if err != nil {
			return nil, err
		}
		fetched := buildIndex(banks)
		d.mu.Lock()
		d.idx = fetched
		d.fetchedAt = d.now()
		d.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		if idx != nil {
			zap.L().Warn("bank directory refresh failed, serving stale list", zap.Error(err))
			return idx, nil
		}
		zap.L().Warn("bank directory fetch failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return v.(index), nil
}

type directoryResponse struct {
	Code string     `json:"code"`
	Desc string     `json:"desc"`
	Data []BankInfo `json:"data"`
}

func (d *HTTPDirectory) fetch(ctx context.Context) ([]BankInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bank directory returned %d", resp.StatusCode)
	}
	var body directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode bank directory: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("bank directory returned no banks (code %s: %s)", body.Code, body.Desc)
	}
	return body.Data, nil
}
