package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testProber(opts Options) *HTTPProber {
	opts.AllowPrivate = true
	if opts.RateLimitRPS == 0 {
		opts.RateLimitRPS = 1000
	}
	return New(opts)
}

func TestFetch_HTMLPageReturnsVisibleText(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><style>.closed{color:red}</style>
<script>var state = "applications closed";</script></head>
<body><h1>Seed Fund</h1><p>Apply now</p><p>Last date: 31 March</p></body></html>`))
	}))
	defer srv.Close()

	resp, err := testProber(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Seed Fund Apply now Last date: 31 March", resp.Body)
	assert.NotContains(t, resp.Body, "closed")
	assert.Contains(t, gotUA, "Mozilla/5.0")
}

func TestFetch_NonOKIsNotAnError(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusServiceUnavailable, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("applications closed"))
		}))

		resp, err := testProber(Options{}).Fetch(context.Background(), srv.URL)
		srv.Close()
		require.NoError(t, err)
		assert.Equal(t, code, resp.StatusCode)
		assert.Empty(t, resp.Body)
	}
}

func TestFetch_FollowsRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("accepting applications"))
	}))
	defer srv.Close()

	resp, err := testProber(Options{}).Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "accepting applications", resp.Body)
}

func TestFetch_RedirectLoopFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	_, err := testProber(Options{}).Fetch(context.Background(), srv.URL+"/loop")
	assert.ErrorContains(t, err, "redirects")
}

func TestFetch_DecodesDeclaredCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte("Candidature ouverte \xe0 tous"))
	}))
	defer srv.Close()

	resp, err := testProber(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Candidature ouverte à tous", resp.Body)
}

func TestFetch_CapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	resp, err := testProber(Options{MaxBodyBytes: 100}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 100)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := testProber(Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetch_BlocksLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach a loopback server")
	}))
	defer srv.Close()

	_, err := New(Options{}).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "blocked private address")
}

func TestFetch_RejectsBadURLs(t *testing.T) {
	p := testProber(Options{})
	for _, raw := range []string{"ftp://example.gov.in/file", "seedfund.startupindia.gov.in", "https://", "::"} {
		_, err := p.Fetch(context.Background(), raw)
		assert.Error(t, err, raw)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testProber(Options{}).Fetch(ctx, "https://seedfund.startupindia.gov.in")
	assert.Error(t, err)
}

func TestLimiterIsPerHost(t *testing.T) {
	p := testProber(Options{RateLimitRPS: 1})
	a := p.limiter("birac.nic.in")
	assert.Same(t, a, p.limiter("BIRAC.nic.in"))
	assert.NotSame(t, a, p.limiter("msme.gov.in"))
}

func TestIsPrivate(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"172.20.0.1":      true,
		"192.168.1.1":     true,
		"169.254.169.254": true,
		"100.64.0.1":      true,
		"0.0.0.0":         true,
		"::1":             true,
		"fd00::1":         true,
		"::ffff:10.0.0.1": true,
		"164.100.94.214":  false,
		"8.8.8.8":         false,
		"2001:4860::8888": false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isPrivate(netip.MustParseAddr(addr)), addr)
	}
}

func TestIsHTML(t *testing.T) {
	assert.True(t, isHTML("text/html; charset=utf-8", ""))
	assert.True(t, isHTML("application/xhtml+xml", ""))
	assert.False(t, isHTML("text/plain", "<html>"))
	assert.True(t, isHTML("", "<!DOCTYPE html><html><body>x</body></html>"))
	assert.False(t, isHTML("", "plain words"))
}
