package loader

import (
	"context"
	"errors"
	"net/netip"
	"net/url"
	"testing"
)

func TestGuardCheckURL(t *testing.T) {
	g := NewGuard()

	tests := []struct {
		name    string
		url     string
		blocked bool
		fetch   bool
	}{
		{name: "loopback admin", url: "http://127.0.0.1/admin", blocked: true},
		{name: "localhost", url: "http://localhost:8080/", blocked: true},
		{name: "private", url: "http://10.0.0.5/", blocked: true},
		{name: "private 192", url: "https://192.168.1.1/router", blocked: true},
		{name: "metadata", url: "http://169.254.169.254/latest/meta-data", blocked: true},
		{name: "ipv6 loopback", url: "http://[::1]/", blocked: true},
		{name: "mapped loopback", url: "http://[::ffff:127.0.0.1]/", blocked: true},
		{name: "unspecified", url: "http://0.0.0.0/", blocked: true},
		{name: "cgnat", url: "http://100.64.1.1/", blocked: true},
		{name: "public literal", url: "http://93.184.216.34/"},
		{name: "ftp scheme", url: "ftp://example.com/file", fetch: true},
		{name: "missing host", url: "http:///path", fetch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			err = g.CheckURL(context.Background(), u)

			var be *BlockedHostError
			var fe *FetchError
			switch {
			case tt.blocked:
				if !errors.As(err, &be) {
					t.Fatalf("expected BlockedHostError, got %v", err)
				}
			case tt.fetch:
				if !errors.As(err, &fe) {
					t.Fatalf("expected FetchError, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
			}
		})
	}
}

func TestGuardAllowLoopback(t *testing.T) {
	g := &Guard{AllowLoopback: true}
	if _, blocked := g.BlockedAddr(netip.MustParseAddr("127.0.0.1")); blocked {
		t.Fatal("expected loopback to be allowed")
	}
	if _, blocked := g.BlockedAddr(netip.MustParseAddr("10.1.2.3")); !blocked {
		t.Fatal("expected private address to stay blocked")
	}
}

func TestGuardControl(t *testing.T) {
	g := NewGuard()
	if err := g.Control("tcp4", "127.0.0.1:80", nil); err == nil {
		t.Fatal("expected dial to loopback to be refused")
	}
	if err := g.Control("tcp4", "93.184.216.34:443", nil); err != nil {
		t.Fatalf("expected public dial to pass, got %v", err)
	}
}
