package service

import (
	"net/netip"
	"path"
	"strings"
)

// ipAllowed reports whether ip matches an allowlist entry. Entries are exact
// addresses, CIDR blocks or globs using * and ?. An empty list allows all.
func ipAllowed(ip string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	addr, addrErr := netip.ParseAddr(strings.TrimSpace(ip))
	for _, entry := range allow {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if prefix, err := netip.ParsePrefix(entry); err == nil && addrErr == nil && prefix.Contains(addr.Unmap()) {
				return true
			}
			continue
		}
		if strings.ContainsAny(entry, "*?") {
			if ok, err := path.Match(entry, ip); err == nil && ok {
				return true
			}
			continue
		}
		if want, err := netip.ParseAddr(entry); err == nil && addrErr == nil {
			if want.Unmap() == addr.Unmap() {
				return true
			}
			continue
		}
		if entry == ip {
			return true
		}
	}
	return false
}
