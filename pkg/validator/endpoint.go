package validator

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Endpoint validation errors.
var (
	ErrInvalidEndpoint     = errors.New("invalid endpoint")
	ErrPlaceholderEndpoint = errors.New("placeholder endpoint")
	ErrBlockedEndpoint     = errors.New("blocked endpoint")
)

// blockedIPRanges contains IP ranges an agent endpoint must never point at.
var blockedIPRanges = []string{
	"127.0.0.0/8",        // Loopback
	"10.0.0.0/8",         // Private class A
	"172.16.0.0/12",      // Private class B
	"192.168.0.0/16",     // Private class C
	"169.254.0.0/16",     // Link-local (includes cloud metadata)
	"100.64.0.0/10",      // Carrier-grade NAT
	"0.0.0.0/8",          // "This" network
	"224.0.0.0/4",        // Multicast
	"240.0.0.0/4",        // Reserved
	"255.255.255.255/32", // Broadcast
	"::1/128",            // IPv6 loopback
	"fc00::/7",           // IPv6 unique local
	"fe80::/10",          // IPv6 link-local
}

var blockedCIDRs []*net.IPNet

func init() {
	for _, cidr := range blockedIPRanges {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err == nil {
			blockedCIDRs = append(blockedCIDRs, ipNet)
		}
	}
}

// dangerousHosts are hostnames that resolve to internal services.
var dangerousHosts = []string{
	"localhost",
	"localhost.localdomain",
	"metadata",
	"metadata.google.internal",
	"metadata.google",
}

// placeholderHosts are documentation domains that never host a real agent.
var placeholderHosts = []string{
	"example.com",
	"example.org",
	"example.net",
	"domain.com",
	"yourdomain.com",
}

// placeholderMarkers appear in unfilled templates.
var placeholderMarkers = []string{
	"{{", "}}", "<", ">", "your-", "your_", "changeme", "change-me", "placeholder", "xxx",
}

// IsBlockedIP reports whether ip lies in a loopback, private, link-local,
// multicast or otherwise reserved range.
func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// IsPlaceholder reports whether s looks like an unfilled template value.
func IsPlaceholder(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return true
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	if u, err := url.Parse(lower); err == nil && u.Hostname() != "" {
		host := u.Hostname()
		for _, p := range placeholderHosts {
			if host == p || strings.HasSuffix(host, "."+p) {
				return true
			}
		}
	}
	return false
}

// endpointTag is the rule every agent endpoint must satisfy before the
// address checks run. Rules are evaluated in order.
const endpointTag = "required,not_placeholder,http_url"

var endpointRules = New()

// EndpointOptions controls ValidateEndpoint.
type EndpointOptions struct {
	// AllowPrivate permits loopback, private and metadata destinations.
	AllowPrivate bool
}

// ValidateEndpoint checks that raw is an absolute http(s) URL with a host that
// is neither a placeholder nor, unless allowed, an internal destination. It
// never performs DNS lookups; resolved addresses are checked at dial time.
func ValidateEndpoint(raw string, opts EndpointOptions) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if err := endpointRules.checkEndpoint(raw); err != nil {
		return nil, err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrInvalidEndpoint)
	}

	if opts.AllowPrivate {
		return u, nil
	}
	if isDangerousHost(host) {
		return nil, fmt.Errorf("%w: hostname %s", ErrBlockedEndpoint, host)
	}
	if ip := net.ParseIP(host); ip != nil && IsBlockedIP(ip) {
		return nil, fmt.Errorf("%w: address %s", ErrBlockedEndpoint, ip)
	}
	return u, nil
}

// checkEndpoint applies endpointTag and maps the failing rule to an
// endpoint error.
func (v *Validator) checkEndpoint(raw string) error {
	err := v.validate.Var(raw, endpointTag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch fe := fieldErrs[0]; fe.Tag() {
	case "required":
		return fmt.Errorf("%w: empty url", ErrInvalidEndpoint)
	case "not_placeholder":
		return fmt.Errorf("%w: %s", ErrPlaceholderEndpoint, raw)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, formatErrorMessage(fe))
	}
}

func isDangerousHost(host string) bool {
	if strings.HasSuffix(host, ".localhost") {
		return true
	}
	for _, d := range dangerousHosts {
		if host == d {
			return true
		}
	}
	return false
}
