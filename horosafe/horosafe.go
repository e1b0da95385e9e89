// Package horosafe checks URLs before a browser is pointed at them: only
// http and https with a host, and no private network targets unless the
// policy allows them.
package horosafe

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrSSRF is returned when a URL targets an address the policy forbids.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// Policy selects which non-public hosts Validate accepts.
type Policy struct {
	AllowLoopback bool
	AllowPrivate  bool
	// Lookup resolves host names. Default: net.LookupHost.
	Lookup func(host string) ([]string, error)
}

// ValidateURL applies the strictest policy: public http(s) hosts only.
func ValidateURL(rawURL string) error {
	return Policy{}.Validate(rawURL)
}

// Validate checks that rawURL uses http/https, has a hostname, and does
// not resolve to an address class the policy excludes.
func (p Policy) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		return p.check(ip)
	}

	lookup := p.Lookup
	if lookup == nil {
		lookup = net.LookupHost
	}
	addrs, err := lookup(host)
	if err != nil {
		// Unresolvable hosts fail at navigation anyway.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := p.check(ip); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p Policy) check(ip net.IP) error {
	switch {
	case ip.IsLoopback() || ip.IsUnspecified():
		if !p.AllowLoopback {
			return ErrSSRF
		}
	case isPrivateIP(ip):
		if !p.AllowPrivate {
			return ErrSSRF
		}
	}
	return nil
}

var privateRanges = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7", "169.254.0.0/16"} {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
