package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectoryLookup(t *testing.T) {
	d := NewStaticDirectory()
	ctx := context.Background()

	for _, code := range []string{"VCB", "vcb", "970436", "Vietcombank"} {
		b, err := d.Lookup(ctx, code)
		require.NoError(t, err, code)
		assert.Equal(t, "970436", b.BIN)
		assert.Equal(t, "Vietcombank", b.DisplayName())
	}

	_, err := d.Lookup(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrUnsupportedBank)
}

func directoryServer(t *testing.T, fail *atomic.Bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"00","desc":"ok","data":[{"code":"XYZ","bin":"999001","shortName":"XyzBank","name":"Xyz Bank"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDirectoryCachesAndServesStale(t *testing.T) {
	var (
		fail atomic.Bool
		hits atomic.Int32
	)
	srv := directoryServer(t, &fail, &hits)
	now := time.Unix(1_700_000_000, 0)
	d := NewHTTPDirectory(srv.Client(), srv.URL, time.Minute, nil)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	b, err := d.Lookup(ctx, "XYZ")
	require.NoError(t, err)
	assert.Equal(t, "XyzBank", b.DisplayName())

	_, err = d.Lookup(ctx, "999001")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	fail.Store(true)
	now = now.Add(2 * time.Minute)
	b, err = d.Lookup(ctx, "XYZ")
	require.NoError(t, err, "stale list keeps serving")
	assert.Equal(t, "999001", b.BIN)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPDirectoryUnavailable(t *testing.T) {
	var (
		fail atomic.Bool
		hits atomic.Int32
	)
	fail.Store(true)
	srv := directoryServer(t, &fail, &hits)
	ctx := context.Background()

	strict := NewHTTPDirectory(srv.Client(), srv.URL, time.Minute, nil)
	_, err := strict.Lookup(ctx, "VCB")
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)

	tolerant := NewHTTPDirectory(srv.Client(), srv.URL, time.Minute, NewStaticDirectory())
	b, err := tolerant.Lookup(ctx, "VCB")
	require.NoError(t, err)
	assert.Equal(t, "970436", b.BIN)
}

func TestHTTPDirectoryConcurrentRefreshSharesOneFetch(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte(`{"code":"00","desc":"ok","data":[{"code":"XYZ","bin":"999001","shortName":"XyzBank"}]}`))
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.Client(), srv.URL, time.Minute, nil)
	ctx := context.Background()

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := d.Lookup(ctx, "XYZ")
			assert.NoError(t, err)
			assert.Equal(t, "999001", b.BIN)
		}()
	}

	<-entered
	require.True(t, d.mu.TryLock(), "cache lock is free while the fetch is in flight")
	d.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}
