package sandboxfetch

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/Potat-Industries/eval-server/internal/potatctx"
)

func TestAttachDataHeadersNumbersOutermostAncestorHighest(t *testing.T) {
	ctx := potatctx.Build(map[string]interface{}{
		"id": "child",
		"parent": map[string]interface{}{
			"id": "parent",
			"parent": map[string]interface{}{
				"id": "grandparent",
			},
		},
	})

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	attachDataHeaders(req, ctx)

	assertHeaderID := func(name, wantID string) {
		t.Helper()
		raw := req.Header.Get(name)
		if raw == "" {
			t.Fatalf("header %s not set", name)
		}
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			t.Fatalf("unescape %s: %v", name, err)
		}
		if !strings.Contains(decoded, `"id":"`+wantID+`"`) {
			t.Fatalf("header %s = %s, want it to carry id %q", name, decoded, wantID)
		}
	}

	// The current context (the innermost submission) gets the bare header;
	// the outermost ancestor gets the largest numbered suffix.
	assertHeaderID("x-potat-data", "child")
	assertHeaderID("x-potat-data-1", "parent")
	assertHeaderID("x-potat-data-2", "grandparent")
}

func TestAttachDataHeadersSingleContextUsesBareHeaderOnly(t *testing.T) {
	ctx := potatctx.Build(map[string]interface{}{"id": "only"})

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	attachDataHeaders(req, ctx)

	if req.Header.Get("x-potat-data") == "" {
		t.Fatal("expected x-potat-data to be set")
	}
	if req.Header.Get("x-potat-data-1") != "" {
		t.Fatal("expected no x-potat-data-1 header for a single-context chain")
	}
}

func TestIsDisallowedIPBlocksPrivateAndLoopback(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.addr)
		if ip == nil {
			t.Fatalf("failed to parse %s", c.addr)
		}
		if got := isDisallowedIP(ip); got != c.want {
			t.Errorf("isDisallowedIP(%s) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestLiteralHostCheckBlocksLoopbackLiteral(t *testing.T) {
	if err := literalHostCheck("http://127.0.0.1/admin"); err == nil {
		t.Fatal("expected literalHostCheck to block a loopback literal")
	}
	if err := literalHostCheck("http://example.com/"); err != nil {
		t.Fatalf("unexpected error for a hostname literalHostCheck cannot resolve itself: %v", err)
	}
}

