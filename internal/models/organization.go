package models

import (
	"net/netip"
	"strings"

	"zk.share/internal/tier"
)

// Organization is the slice of the external org service the engine needs.
type Organization struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Tier        tier.Tier `json:"tier" yaml:"tier"`
	IPAllowlist []string  `json:"ipAllowlist,omitempty" yaml:"ip_allowlist"`
}

// AllowsIP reports whether ip may reveal this organization's secrets. The
// allowlist only applies when the tier enables it and at least one entry is set.
func (o *Organization) AllowsIP(ip string) bool {
	if !tier.IsEnabled(o.Tier, tier.CapIPAllowlisting) || len(o.IPAllowlist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range o.IPAllowlist {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}
