package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navfeed/internal/config"
	"navfeed/internal/domain"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	hosts []string
	reqs  []*http.Request
}

func (r *recorder) add(req *http.Request) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, req.URL.Path)
	r.hosts = append(r.hosts, req.Host)
	r.reqs = append(r.reqs, req)
	return len(r.paths)
}

func testConfig(base string) config.Source {
	return config.Source{
		ArchiveBase:   base,
		ExportURL:     base + "/export",
		ListURL:       base + "/list",
		Referer:       "https://referer.example/",
		RetryAttempts: 3,
		UserAgents:    []string{"ua-one", "ua-two"},
	}
}

var day = domain.MustParseISO("2025-07-04")

func TestDailyArchiveVariants(t *testing.T) {
	cfg := testConfig("https://archive.example/download")
	cfg.FallbackHost = "10.0.0.1"
	cfg.InsecureFallback = true

	vs := New(cfg).DailyArchiveVariants(day)
	require.Len(t, vs, 24)
	assert.Equal(t, "https://archive.example/download/NAV_File_04072025.zip", vs[0].URL)
	assert.Equal(t, "https://archive.example/download/nav%20file04072025.zip", vs[11].URL)

	fb := vs[12]
	assert.Equal(t, "https://10.0.0.1/download/NAV_File_04072025.zip", fb.URL)
	assert.Equal(t, "archive.example", fb.Host)
	assert.True(t, fb.Insecure)

	cfg.FallbackHost = ""
	assert.Len(t, New(cfg).DailyArchiveVariants(day), 12)
}

func TestFetchDailyArchiveWalksVariants(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.URL.Path == "/NAV File 04072025.zip" {
			_, _ = w.Write([]byte("zip-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	body, err := New(testConfig(srv.URL)).FetchDailyArchive(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(body))
	assert.Len(t, rec.paths, 4, "404s are not retried")
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := rec.add(r); n < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := New(testConfig(srv.URL)).FetchDailyArchive(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	require.Len(t, rec.paths, 3)
	assert.Equal(t, rec.paths[0], rec.paths[2], "retries stay on the same variant")
}

func TestFetchAllNotFoundIsUnavailable(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).FetchDailyArchive(context.Background(), day)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Len(t, rec.paths, 12)
}

func TestFetchEmptyBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).FetchInstrumentList(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestFetchExhaustedIsNetworkError(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).FetchInstrumentHistory(context.Background(),
		domain.Key{Manager: "PFM001", Instrument: "SM001001"}, Window{Months: 60})

	var ne *domain.NetworkError
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.False(t, errors.Is(err, domain.ErrUnavailable))
	assert.Len(t, rec.paths, 3)
}

func TestFetchFallsBackToDirectHost(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.Host == "archive.example" {
			_, _ = w.Write([]byte("via-ip"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cfg := testConfig(srv.URL)
	cfg.ArchiveHost = "archive.example"
	cfg.FallbackHost = u.Host

	body, err := New(cfg).FetchDailyArchive(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, "via-ip", string(body))
	assert.Len(t, rec.paths, 13)
}

func TestFetchInstrumentHistoryRequest(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte("ID\tDATE OF NAV\tNAV VALUE\n"))
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).FetchInstrumentHistory(context.Background(),
		domain.Key{Manager: "PFM001", Instrument: "SM001001"}, Window{Months: 60})
	require.NoError(t, err)
	require.Len(t, rec.reqs, 1)

	r := rec.reqs[0]
	assert.Equal(t, "/export", r.URL.Path)
	assert.Equal(t, "PFM001", r.URL.Query().Get("navcatdataxls"))
	assert.Equal(t, "60", r.URL.Query().Get("navyearselxls"))
	assert.Equal(t, "SM001001", r.URL.Query().Get("navsubdataxls"))
	assert.Equal(t, "https://referer.example/", r.Header.Get("Referer"))
	assert.Contains(t, []string{"ua-one", "ua-two"}, r.Header.Get("User-Agent"))
}

func TestFetchHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(srv.URL)).FetchDailyArchive(ctx, day)
	assert.ErrorIs(t, err, context.Canceled)
}
