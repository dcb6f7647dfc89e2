package tier

import (
	"fmt"
	"math"
	"strings"
)

// Capability is a boolean feature gate.
type Capability string

const (
	CapBurnOnRead     Capability = "burnOnRead"
	CapSSO            Capability = "sso"
	CapIPAllowlisting Capability = "ipAllowlisting"
	CapSecretRecovery Capability = "secretRecovery"
)

// Limit is a numeric ceiling.
type Limit string

const (
	LimitMaxViews      Limit = "maxViews"
	LimitAuditLogDays  Limit = "auditLogDays"
	LimitOrganizations Limit = "maxOrganizations"
)

// Feature is a choice a caller asks to persist.
type Feature string

const (
	FeatureBurnOnRead     Feature = "burnOnRead"
	FeatureMaxViews       Feature = "maxViews"
	FeatureOrganizations  Feature = "organizations"
	FeatureSSO            Feature = "sso"
	FeatureIPAllowlisting Feature = "ipAllowlisting"
	FeatureSecretRecovery Feature = "secretRecovery"
)

var capabilityLabels = map[Capability]string{
	CapBurnOnRead:     "Burn-on-read",
	CapSSO:            "SSO",
	CapIPAllowlisting: "IP allowlisting",
	CapSecretRecovery: "Secret recovery",
}

var featureCapabilities = map[Feature]Capability{
	FeatureBurnOnRead:     CapBurnOnRead,
	FeatureSSO:            CapSSO,
	FeatureIPAllowlisting: CapIPAllowlisting,
	FeatureSecretRecovery: CapSecretRecovery,
}

// Result is the outcome of ValidateUsage. Message is shown to the caller
// verbatim when Valid is false.
type Result struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

func valid() Result { return Result{Valid: true} }

func invalid(format string, args ...any) Result {
	return Result{Valid: false, Message: fmt.Sprintf(format, args...)}
}

func IsEnabled(t Tier, c Capability) bool {
	caps := CapabilitiesFor(t)
	switch c {
	case CapBurnOnRead:
		return caps.BurnOnRead
	case CapSSO:
		return caps.SSO
	case CapIPAllowlisting:
		return caps.IPAllowlisting
	case CapSecretRecovery:
		return caps.SecretRecovery
	default:
		return false
	}
}

// CeilingFor returns t's ceiling for l, or nil when unbounded.
func CeilingFor(t Tier, l Limit) *int {
	caps := CapabilitiesFor(t)
	switch l {
	case LimitMaxViews:
		return caps.MaxViewsDefault
	case LimitAuditLogDays:
		return caps.AuditLogDays
	case LimitOrganizations:
		return caps.MaxOrganizations
	default:
		return nil
	}
}

// ValidateUsage is the gate creation and update paths call before persisting
// a feature choice. It has no side effects.
func ValidateUsage(t Tier, f Feature, value any) Result {
	if c, ok := featureCapabilities[f]; ok {
		return validateCapability(t, c, f, value)
	}

	switch f {
	case FeatureMaxViews:
		return validateCeiling(t, LimitMaxViews, f, value, func(n int) string {
			return fmt.Sprintf("%s tier is limited to %d views per secret", t.DisplayName(), n)
		})
	case FeatureOrganizations:
		return validateCeiling(t, LimitOrganizations, f, value, func(n int) string {
			noun := "organizations"
			if n == 1 {
				noun = "organization"
			}
			return fmt.Sprintf("%s tier is limited to %d %s", t.DisplayName(), n, noun)
		})
	default:
		return invalid("unknown feature %q", f)
	}
}

func validateCapability(t Tier, c Capability, f Feature, value any) Result {
	requested, ok := value.(bool)
	if !ok {
		if p, isPtr := value.(*bool); isPtr {
			if p == nil {
				return valid()
			}
			requested, ok = *p, true
		}
	}
	if !ok {
		return invalid("invalid value for %s", f)
	}
	if !requested || IsEnabled(t, c) {
		return valid()
	}
	return invalid("%s is only available on %s plans", capabilityLabels[c], tiersWith(c))
}

func validateCeiling(t Tier, l Limit, f Feature, value any, exceeded func(int) string) Result {
	requested, isNull, ok := toInt(value)
	if !ok {
		return invalid("invalid value for %s", f)
	}
	if isNull {
		return valid()
	}
	if requested < 1 {
		return invalid("%s must be at least 1", f)
	}
	ceiling := CeilingFor(t, l)
	if ceiling != nil && requested > *ceiling {
		return Result{Valid: false, Message: exceeded(*ceiling)}
	}
	return valid()
}

// EffectiveMaxViews applies t's view ceiling to an unbounded request.
func EffectiveMaxViews(t Tier, requested *int) *int {
	if requested != nil {
		return cloneInt(requested)
	}
	return CeilingFor(t, LimitMaxViews)
}

func tiersWith(c Capability) string {
	var names []string
	for _, t := range All() {
		if IsEnabled(t, c) {
			names = append(names, t.DisplayName())
		}
	}
	switch len(names) {
	case 0:
		return "no"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func toInt(value any) (n int, isNull bool, ok bool) {
	switch v := value.(type) {
	case nil:
		return 0, true, true
	case int:
		return v, false, true
	case *int:
		if v == nil {
			return 0, true, true
		}
		return *v, false, true
	case int64:
		return int(v), false, true
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, false, false
		}
		return int(v), false, true
	default:
		return 0, false, false
	}
}
