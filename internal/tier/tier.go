// Package tier maps subscription tiers to the access-control capabilities and
// numeric ceilings an organization may use.
package tier

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type Tier string

const (
	Free     Tier = "free"
	ProTeam  Tier = "pro_team"
	Business Tier = "business"
)

var ErrUnknownTier = errors.New("unknown tier")

// All returns the tiers from lowest to highest.
func All() []Tier {
	return []Tier{Free, ProTeam, Business}
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := table[t]; !ok {
		return "", errors.Wrapf(ErrUnknownTier, "%q", s)
	}
	return t, nil
}

func (t Tier) DisplayName() string {
	switch t {
	case Free:
		return "Free"
	case ProTeam:
		return "Pro Team"
	case Business:
		return "Business"
	default:
		return string(t)
	}
}

// CapabilitySet is what a tier unlocks. A nil ceiling means unbounded.
type CapabilitySet struct {
	BurnOnRead       bool `json:"burnOnRead" yaml:"burn_on_read"`
	MaxOrganizations *int `json:"maxOrganizations" yaml:"max_organizations"`
	MaxViewsDefault  *int `json:"maxViewsDefault" yaml:"max_views_default"`
	AuditLogDays     *int `json:"auditLogDays" yaml:"audit_log_days"`
	SSO              bool `json:"sso" yaml:"sso"`
	IPAllowlisting   bool `json:"ipAllowlisting" yaml:"ip_allowlisting"`
	SecretRecovery   bool `json:"secretRecovery" yaml:"secret_recovery"`
}

func limit(n int) *int { return &n }

// table must have exactly one entry per tier in All().
var table = map[Tier]CapabilitySet{
	Free: {
		BurnOnRead:       false,
		MaxOrganizations: limit(1),
		MaxViewsDefault:  limit(10),
		AuditLogDays:     limit(7),
	},
	ProTeam: {
		BurnOnRead:       true,
		MaxOrganizations: limit(5),
		MaxViewsDefault:  limit(100),
		AuditLogDays:     limit(90),
		IPAllowlisting:   true,
	},
	Business: {
		BurnOnRead:       true,
		MaxOrganizations: nil,
		MaxViewsDefault:  nil,
		AuditLogDays:     limit(365),
		SSO:              true,
		IPAllowlisting:   true,
		SecretRecovery:   true,
	},
}

// CapabilitiesFor returns a copy of t's capability set. Unknown tiers get the
// free set.
func CapabilitiesFor(t Tier) CapabilitySet {
	c, ok := table[t]
	if !ok {
		c = table[Free]
	}
	return c.clone()
}

func (c CapabilitySet) clone() CapabilitySet {
	out := c
	out.MaxOrganizations = cloneInt(c.MaxOrganizations)
	out.MaxViewsDefault = cloneInt(c.MaxViewsDefault)
	out.AuditLogDays = cloneInt(c.AuditLogDays)
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	return limit(*p)
}
