// Package httpclient builds outbound HTTP clients for probing untrusted agent
// endpoints.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vigilis/sentinel/pkg/validator"
)

// ErrBlockedAddress is returned when a destination resolves to a blocked range.
var ErrBlockedAddress = errors.New("blocked address")

// maxRedirects bounds redirect chains followed for a single probe.
const maxRedirects = 3

// Config configures a safe client.
type Config struct {
	Timeout time.Duration
	// AllowPrivate disables address filtering. Only for local development and tests.
	AllowPrivate bool
	// Resolver is used for host lookups. Defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

// NewSafeClient returns an http.Client whose dialer refuses loopback, private,
// link-local and metadata destinations. The address is checked after DNS
// resolution and the connection is made to the checked IP, which closes the
// rebinding window between validation and connect. Every redirect target is
// validated the same way.
func NewSafeClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.AllowPrivate {
		transport.DialContext = dialer.DialContext
	} else {
		transport.DialContext = guardedDial(dialer, resolver)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			if _, err := validator.ValidateEndpoint(req.URL.String(), validator.EndpointOptions{AllowPrivate: cfg.AllowPrivate}); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func guardedDial(dialer *net.Dialer, resolver *net.Resolver) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := resolveHost(ctx, resolver, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			if validator.IsBlockedIP(ip) {
				return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, ip)
			}
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

func resolveHost(ctx context.Context, resolver *net.Resolver, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}
