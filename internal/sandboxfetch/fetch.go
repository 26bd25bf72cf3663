// Package sandboxfetch implements the guest-visible fetch() capability with
// SSRF defenses, a process-scoped concurrency cap, and a wall-clock timeout.
package sandboxfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Potat-Industries/eval-server/internal/potatctx"
)

const userAgent = "eval-server/1.0 (+https://github.com/Potat-Industries/eval-server)"

// Config mirrors the relevant fields of the service configuration.
type Config struct {
	Timeout           time.Duration
	MaxConcurrency    int64
	MaxResponseLength int
}

// Result is the value returned to the guest from a fetch call.
type Result struct {
	Body   string `json:"body"`
	Status int    `json:"status"`
}

// Options mirrors the guest-supplied second argument to fetch().
type Options struct {
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	WithDataHeaders bool              `json:"withDataHeaders"`
}

// Fetcher enforces the process-wide concurrency cap and SSRF guard across
// every guest fetch in this worker process.
type Fetcher struct {
	cfg       Config
	inflight  int64
	client    *http.Client
}

// Inflight reports the current number of in-progress outbound fetches in
// this process. The admin stats endpoint does not read it.
func (f *Fetcher) Inflight() int64 {
	return atomic.LoadInt64(&f.inflight)
}

// MaxConcurrency reports the configured concurrency cap.
func (f *Fetcher) MaxConcurrency() int64 {
	return f.cfg.MaxConcurrency
}

func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = 10_000
	}

	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: guardedDialContext(dialer),
	}

	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

// Do performs a guarded outbound fetch on behalf of guest code running in
// the given submission's context (used to build x-potat-data headers).
func (f *Fetcher) Do(ctx context.Context, rawURL string, opts Options, callerCtx *potatctx.Context) (Result, error) {
	if err := literalHostCheck(rawURL); err != nil {
		return Result{}, err
	}

	if atomic.AddInt64(&f.inflight, 1) > f.cfg.MaxConcurrency {
		atomic.AddInt64(&f.inflight, -1)
		return Result{Status: 429, Body: "Too many requests."}, nil
	}
	defer atomic.AddInt64(&f.inflight, -1)

	timeoutCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(timeoutCtx, method, rawURL, body)
	if err != nil {
		return Result{Status: 400, Body: fmt.Sprintf("Request failed - %s: %s", "TypeError", err.Error())}, nil
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)

	if opts.WithDataHeaders || strings.HasPrefix(rawURL, "https://fun.joet.me") {
		attachDataHeaders(req, callerCtx)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return Result{Status: 408, Body: "Request timed out."}, nil
		}
		if isBlocked(err) {
			return Result{}, err
		}
		return Result{Status: 400, Body: fmt.Sprintf("Request failed - %s: %s", "Error", err.Error())}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.cfg.MaxResponseLength)+1))
	if err != nil {
		return Result{Status: 400, Body: fmt.Sprintf("Request failed - %s: %s", "Error", err.Error())}, nil
	}

	text := string(raw)
	if len(text) > f.cfg.MaxResponseLength {
		text = text[:f.cfg.MaxResponseLength]
	}

	return Result{Body: normalizeBody(text), Status: resp.StatusCode}, nil
}

func normalizeBody(text string) string {
	var v interface{}
	if json.Unmarshal([]byte(text), &v) == nil {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return text
}

func attachDataHeaders(req *http.Request, ctx *potatctx.Context) {
	if ctx == nil {
		return
	}
	chain, err := ctx.MarshalChain()
	if err != nil {
		return
	}
	for i, payload := range chain {
		name := "x-potat-data"
		if i > 0 {
			name = fmt.Sprintf("x-potat-data-%d", i)
		}
		req.Header.Set(name, url.QueryEscape(string(payload)))
	}
}

type blockedError struct{ addr string }

func (e *blockedError) Error() string {
	return fmt.Sprintf("Access to %s is disallowed", e.addr)
}

func isBlocked(err error) bool {
	var be *blockedError
	for e := err; e != nil; e = errorsUnwrap(e) {
		if b, ok := e.(*blockedError); ok {
			be = b
			break
		}
	}
	return be != nil
}

func errorsUnwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

// literalHostCheck rejects literal IPv4/bracketed-IPv6 hostnames that are
// private or loopback without needing a DNS round trip.
func literalHostCheck(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := u.Hostname()
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if isDisallowedIP(ip) {
		return &blockedError{addr: host}
	}
	return nil
}

// guardedDialContext intercepts DNS resolution and refuses to connect to
// any resolved address that is private, loopback, or link-local.
func guardedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	resolver := net.DefaultResolver
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		if ip := net.ParseIP(host); ip != nil {
			if isDisallowedIP(ip) {
				return nil, &blockedError{addr: host}
			}
			return dialer.DialContext(ctx, network, addr)
		}

		ips, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}

		var lastErr error
		for _, ipAddr := range ips {
			if isDisallowedIP(ipAddr.IP) {
				lastErr = &blockedError{addr: ipAddr.IP.String()}
				continue
			}
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses resolved for %s", host)
		}
		return nil, lastErr
	}
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsUnspecified() {
		return true
	}
	return false
}
