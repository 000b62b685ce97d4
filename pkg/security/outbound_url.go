package security

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// EndpointOptions configures validation of the completion endpoint URL.
type EndpointOptions struct {
	// AllowHTTP permits plain HTTP URLs. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback/private/link-local targets and localhost names.
	AllowLocalNetworks bool
}

// EndpointError describes why an endpoint URL was rejected.
type EndpointError struct {
	URL    string
	Reason string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("invalid endpoint %q: %s", redact(e.URL), e.Reason)
}

// ValidateEndpoint checks that rawURL is an absolute URL the client may POST
// the conversation to. The API key travels in a header, so the URL itself
// must not carry credentials.
func ValidateEndpoint(rawURL string, opts EndpointOptions) error {
	reject := func(format string, args ...interface{}) error {
		return &EndpointError{URL: rawURL, Reason: fmt.Sprintf(format, args...)}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return reject("%v", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return reject("http scheme is not allowed")
		}
	default:
		return reject("unsupported scheme %q", parsed.Scheme)
	}

	if parsed.User != nil {
		return reject("userinfo is not allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return reject("host is required")
	}

	if !opts.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return reject("local hostname %q is not allowed", host)
		}
	}

	// IP literals are checked without DNS lookups.
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" && !opts.AllowLocalNetworks {
			return reject("zoned IP address %q is not allowed", host)
		}
		addr = addr.Unmap()

		if addr.IsUnspecified() || addr.IsMulticast() {
			return reject("disallowed IP address %q", host)
		}

		if !opts.AllowLocalNetworks {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
				return reject("local network IP %q is not allowed", host)
			}
		}
	}

	return nil
}

// redact drops the query string, which for some gateways carries a key.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i] + "?…"
	}
	return rawURL
}
