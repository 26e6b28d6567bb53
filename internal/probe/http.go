// Package probe implements the HTTP liveness probe used by the status
// monitor.
package probe

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxRedirects = 10

var blockedPrefixes = func() []netip.Prefix {
	var out []netip.Prefix
	for _, s := range []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}()

type Options struct {
	Timeout time.Duration
	// RateLimitRPS is the request rate allowed per host.
	RateLimitRPS float64
	MaxBodyBytes int64
	UserAgent    string
	// AllowPrivate disables the private-address guard. Only tests set it.
	AllowPrivate bool
}

// HTTPProber fetches grant pages politely: per-host rate limits, a capped
// body, and no connections to private or loopback addresses.
type HTTPProber struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ enhance.Prober = (*HTTPProber)(nil)

func New(opts Options) *HTTPProber {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 2
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if !opts.AllowPrivate {
		dialer.Control = guardAddress
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	p := &HTTPProber{
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	p.client = &http.Client{
		Timeout:       opts.Timeout,
		Transport:     transport,
		CheckRedirect: p.checkRedirect,
	}
	return p
}

// Fetch GETs rawURL. Any HTTP status is a successful probe; only transport
// problems are errors. The body is returned as visible text for 200 responses.
func (p *HTTPProber) Fetch(ctx context.Context, rawURL string) (*enhance.ProbeResponse, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, eris.Wrapf(err, "probe: parse %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, eris.Errorf("probe: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, eris.Errorf("probe: missing host in %q", rawURL)
	}

	if err := p.limiter(u.Hostname()).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "probe: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "probe: build request")
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-IN,en;q=0.9,hi;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "probe: get %s", u.Redacted())
	}
	defer resp.Body.Close()

	out := &enhance.ProbeResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		zap.L().Debug("probe: non-200 response",
			zap.String("url", u.Redacted()), zap.Int("status", resp.StatusCode))
		return out, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "probe: read body of %s", u.Redacted())
	}

	contentType := resp.Header.Get("Content-Type")
	body := decode(raw, contentType)
	if isHTML(contentType, body) {
		body = ExtractText(body)
	}
	out.Body = body
	return out, nil
}

func (p *HTTPProber) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.opts.RateLimitRPS), 1)
		p.limiters[host] = l
	}
	return l
}

func (p *HTTPProber) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return eris.Errorf("probe: stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return eris.Errorf("probe: redirect to %q scheme blocked", req.URL.Scheme)
	}
	host := strings.ToLower(req.URL.Hostname())
	if host == "" {
		return eris.New("probe: redirect host missing")
	}
	if !p.opts.AllowPrivate && (host == "localhost" || strings.HasSuffix(host, ".local")) {
		return eris.Errorf("probe: redirect to internal host %s blocked", host)
	}
	return nil
}

// guardAddress runs after DNS resolution, on the address actually dialled.
func guardAddress(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return eris.Wrapf(err, "probe: parse dial address %q", address)
	}
	if isPrivate(ap.Addr()) {
		return eris.Errorf("probe: blocked private address %s", ap.Addr())
	}
	return nil
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// decode converts raw to UTF-8 using the charset declared in the
// Content-Type header. Unknown charsets leave the bytes as they are.
func decode(raw []byte, contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(raw)
	}
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return string(raw)
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		zap.L().Debug("probe: unsupported charset", zap.String("charset", cs))
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func isHTML(contentType, body string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt == "text/html" || mt == "application/xhtml+xml"
	}
	head := strings.ToLower(body[:min(len(body), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
