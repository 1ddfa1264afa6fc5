// Package safefetch performs single outbound HTTP(S) requests with SSRF
// protection: URL normalization, DNS resolution gating, a private-range
// denylist, explicit redirect validation, and byte/time budgets. Redirects are
// never delegated to the HTTP client; every hop re-runs the full host-safety
// check.
package safefetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ── Error taxonomy ──────────────────────────────────────────

const (
	KindInvalidURL            = "invalid-url"
	KindUnsupportedProtocol   = "unsupported-protocol"
	KindMissingHostname       = "missing-hostname"
	KindBlockedPort           = "blocked-port"
	KindBlockedHostname       = "blocked-hostname"
	KindBlockedIP             = "blocked-ip"
	KindBlockedResolvedIP     = "blocked-resolved-ip"
	KindDNSNoRecords          = "dns-no-records"
	KindTimeoutTotal          = "timeout-total"
	KindRedirectMissingLoc    = "redirect-missing-location"
	KindRedirectLimitExceeded = "redirect-limit-exceeded"
	KindRedirectCrossProtocol = "redirect-cross-protocol-blocked"
	KindDisallowedContentType = "disallowed-content-type"
	KindResponseTooLarge      = "response-too-large"
	KindRequestFailed         = "request-failed"
)

// Error carries the string-typed failure discriminator for one fetch.
type Error struct {
	Kind string
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind + ": " + e.Err.Error()
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the fetch error kind, or "" for other errors.
func KindOf(err error) string {
	if fe, ok := err.(*Error); ok {
		return fe.Kind
	}
	return ""
}

// ── Configuration ───────────────────────────────────────────

// ResolveFunc looks up all address records for a hostname, in verbatim order.
type ResolveFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// DoFunc issues one HTTP request without following redirects.
type DoFunc func(req *http.Request) (*http.Response, error)

// Config controls one fetch. The zero value gets the documented defaults.
type Config struct {
	Method              string
	MaxRedirects        int // 1..6; zero or negative selects the default 4, so a no-redirect limit cannot be set
	MaxBytes            int64
	TotalTimeout        time.Duration
	HopTimeout          time.Duration
	AllowedPorts        map[int]bool
	AllowedContentTypes map[string]bool
	Headers             map[string]string

	Resolve ResolveFunc
	Do      DoFunc

	now func() time.Time
}

// Result describes a completed fetch.
type Result struct {
	OK          bool
	Status      int
	FinalURL    string
	ContentType string
	Body        string
	Redirects   []string
}

var sensitiveRequestHeaders = map[string]bool{
	"cookie":              true,
	"set-cookie":          true,
	"authorization":       true,
	"proxy-authorization": true,
}

func (c *Config) withDefaults() Config {
	out := *c
	out.Method = strings.ToUpper(strings.TrimSpace(out.Method))
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.MaxRedirects < 0 {
		out.MaxRedirects = 0
	}
	if out.MaxRedirects == 0 {
		out.MaxRedirects = 4
	}
	if out.MaxRedirects > 6 {
		out.MaxRedirects = 6
	}
	if out.MaxBytes < 1024 {
		if out.MaxBytes == 0 {
			out.MaxBytes = 1_000_000
		} else {
			out.MaxBytes = 1024
		}
	}
	if out.TotalTimeout == 0 {
		out.TotalTimeout = 7 * time.Second
	}
	if out.TotalTimeout < time.Second {
		out.TotalTimeout = time.Second
	}
	if out.HopTimeout == 0 {
		out.HopTimeout = 4 * time.Second
	}
	if out.HopTimeout < 500*time.Millisecond {
		out.HopTimeout = 500 * time.Millisecond
	}
	if out.AllowedPorts == nil {
		out.AllowedPorts = map[int]bool{80: true, 443: true, 8080: true}
	}
	if out.AllowedContentTypes == nil {
		out.AllowedContentTypes = map[string]bool{
			"text/html":        true,
			"text/plain":       true,
			"application/json": true,
		}
	}
	if len(out.Headers) > 0 {
		clean := make(map[string]string, len(out.Headers))
		for k, v := range out.Headers {
			if !sensitiveRequestHeaders[strings.ToLower(strings.TrimSpace(k))] {
				clean[k] = v
			}
		}
		out.Headers = clean
	}
	if out.Resolve == nil {
		out.Resolve = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}
	if out.Do == nil {
		client := &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		out.Do = client.Do
	}
	if out.now == nil {
		out.now = time.Now
	}
	return out
}

// ── Private-range policy ────────────────────────────────────

var privateRanges = func() []netip.Prefix {
	specs := []string{
		"0.0.0.0/8", "10.0.0.0/8", "127.0.0.0/8", "169.254.0.0/16",
		"172.16.0.0/12", "192.168.0.0/16",
		"::/128", "::1/128", "fc00::/7", "fe80::/10",
	}
	out := make([]netip.Prefix, 0, len(specs))
	for _, s := range specs {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}()

var metadataAddrs = map[string]bool{
	"169.254.169.254": true,
	"169.254.170.2":   true,
	"100.100.100.200": true,
}

// IsPrivateAddr reports whether an address falls in the private/local/metadata
// set. IPv4-mapped IPv6 addresses are unmapped first.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if metadataAddrs[addr.String()] {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ── Fetch ───────────────────────────────────────────────────

var redirectStatuses = map[int]bool{301: true, 302: true, 303: true, 307: true, 308: true}

// Fetch performs one guarded request, following redirects itself. Every
// failure is an *Error with a distinct kind; nothing is retried internally.
func Fetch(ctx context.Context, target string, cfg Config) (*Result, error) {
	c := cfg.withDefaults()
	start := c.now()
	method := c.Method

	current, err := normalize(target)
	if err != nil {
		return nil, err
	}

	var redirects []string
	for hop := 0; ; hop++ {
		if err := checkHost(ctx, current, c); err != nil {
			return nil, err
		}

		elapsed := c.now().Sub(start)
		remaining := c.TotalTimeout - elapsed
		if remaining <= 0 {
			return nil, &Error{Kind: KindTimeoutTotal, URL: current.String()}
		}
		hopBudget := c.HopTimeout
		if remaining < hopBudget {
			hopBudget = remaining
		}

		resp, err := c.issue(ctx, method, current, hopBudget)
		if err != nil {
			return nil, &Error{Kind: KindRequestFailed, URL: current.String(), Err: err}
		}

		if redirectStatuses[resp.StatusCode] {
			loc := strings.TrimSpace(resp.Header.Get("Location"))
			drain(resp)
			if loc == "" {
				return nil, &Error{Kind: KindRedirectMissingLoc, URL: current.String()}
			}
			next, err := resolveLocation(current, loc)
			if err != nil {
				return nil, err
			}
			if next.Scheme != current.Scheme {
				return nil, &Error{Kind: KindRedirectCrossProtocol, URL: next.String()}
			}
			if hop+1 > c.MaxRedirects {
				return nil, &Error{Kind: KindRedirectLimitExceeded, URL: next.String()}
			}
			if resp.StatusCode == http.StatusSeeOther && method != http.MethodHead {
				method = http.MethodGet
			}
			redirects = append(redirects, current.String())
			current = next
			continue
		}

		return c.finish(resp, method, current, redirects)
	}
}

// normalize runs step 1 of the algorithm on one hop's URL.
func normalize(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, URL: raw, Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &Error{Kind: KindUnsupportedProtocol, URL: raw}
	}
	u.Scheme = scheme
	u.User = nil
	u.Fragment = ""
	if u.Hostname() == "" {
		return nil, &Error{Kind: KindMissingHostname, URL: raw}
	}
	return u, nil
}

// resolveLocation interprets a Location header relative to the current URL and
// re-normalizes the result.
func resolveLocation(current *url.URL, loc string) (*url.URL, error) {
	ref, err := url.Parse(loc)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, URL: loc, Err: err}
	}
	return normalize(current.ResolveReference(ref).String())
}

// checkHost runs steps 2–3: port gating, hostname denylist, IP-literal and
// resolved-address private-range checks.
func checkHost(ctx context.Context, u *url.URL, c Config) error {
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	if !c.AllowedPorts[port] {
		return &Error{Kind: KindBlockedPort, URL: u.String()}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".local") || host == "::1" {
		return &Error{Kind: KindBlockedHostname, URL: u.String()}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivateAddr(addr) {
			return &Error{Kind: KindBlockedIP, URL: u.String()}
		}
		return nil
	}

	addrs, err := c.Resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		return &Error{Kind: KindDNSNoRecords, URL: u.String(), Err: err}
	}
	for _, a := range addrs {
		if IsPrivateAddr(a) {
			return &Error{Kind: KindBlockedResolvedIP, URL: u.String()}
		}
	}
	return nil
}

// issue sends one hop's request with its abort budget.
func (c Config) issue(ctx context.Context, method string, u *url.URL, budget time.Duration) (*http.Response, error) {
	hopCtx, cancel := context.WithTimeout(ctx, budget)
	req, err := http.NewRequestWithContext(hopCtx, method, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The cancel is tied to the response body: wrap so closing the body
	// releases the hop context.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// finish runs step 6: content-type gating and the bounded body read.
func (c Config) finish(resp *http.Response, method string, u *url.URL, redirects []string) (*Result, error) {
	defer resp.Body.Close()

	contentType := parseContentType(resp.Header.Get("Content-Type"))
	res := &Result{
		Status:      resp.StatusCode,
		FinalURL:    u.String(),
		ContentType: contentType,
		Redirects:   redirects,
	}

	if method == http.MethodHead {
		res.OK = true
		return res, nil
	}

	if !c.AllowedContentTypes[contentType] {
		return nil, &Error{Kind: KindDisallowedContentType, URL: u.String()}
	}

	limited := io.LimitReader(resp.Body, c.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &Error{Kind: KindRequestFailed, URL: u.String(), Err: err}
	}
	if int64(len(body)) > c.MaxBytes {
		return nil, &Error{Kind: KindResponseTooLarge, URL: u.String()}
	}

	res.OK = true
	res.Body = string(body)
	return res, nil
}

// parseContentType returns the lowercased type/subtype before any parameters.
func parseContentType(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
