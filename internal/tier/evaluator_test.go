package tier

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestTableCoversAllTiers(t *testing.T) {
	require.Len(t, table, len(All()))
	for _, tr := range All() {
		_, ok := table[tr]
		assert.True(t, ok, "missing tier %s", tr)
	}
}

func TestHigherTiersAreSupersets(t *testing.T) {
	tiers := All()
	caps := []Capability{CapBurnOnRead, CapSSO, CapIPAllowlisting, CapSecretRecovery}
	limits := []Limit{LimitMaxViews, LimitAuditLogDays, LimitOrganizations}

	for i := 1; i < len(tiers); i++ {
		lower, higher := tiers[i-1], tiers[i]
		for _, c := range caps {
			if IsEnabled(lower, c) {
				assert.True(t, IsEnabled(higher, c), "%s enables %s but %s does not", lower, c, higher)
			}
		}
		for _, l := range limits {
			lo, hi := CeilingFor(lower, l), CeilingFor(higher, l)
			if hi == nil {
				continue
			}
			require.NotNil(t, lo, "%s unbounded for %s but %s is bounded", lower, l, higher)
			assert.GreaterOrEqual(t, *hi, *lo, "%s ceiling for %s", higher, l)
		}
	}
}

func TestCapabilitiesForReturnsCopy(t *testing.T) {
	c := CapabilitiesFor(Free)
	*c.MaxViewsDefault = 9999

	assert.Equal(t, 10, *CeilingFor(Free, LimitMaxViews))
}

func TestCapabilitiesForUnknownTier(t *testing.T) {
	assert.Equal(t, CapabilitiesFor(Free), CapabilitiesFor(Tier("platinum")))
}

func TestParseTier(t *testing.T) {
	tr, err := ParseTier(" Pro_Team ")
	require.NoError(t, err)
	assert.Equal(t, ProTeam, tr)

	_, err = ParseTier("enterprise")
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		tier Tier
		cap  Capability
		want bool
	}{
		{Free, CapBurnOnRead, false},
		{ProTeam, CapBurnOnRead, true},
		{Business, CapBurnOnRead, true},
		{Free, CapSSO, false},
		{ProTeam, CapSSO, false},
		{Business, CapSSO, true},
		{Free, CapIPAllowlisting, false},
		{ProTeam, CapIPAllowlisting, true},
		{ProTeam, CapSecretRecovery, false},
		{Business, CapSecretRecovery, true},
		{Business, Capability("teleport"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+string(tt.cap), func(t *testing.T) {
			assert.Equal(t, tt.want, IsEnabled(tt.tier, tt.cap))
		})
	}
}

func TestCeilingFor(t *testing.T) {
	assert.Equal(t, intPtr(10), CeilingFor(Free, LimitMaxViews))
	assert.Equal(t, intPtr(1), CeilingFor(Free, LimitOrganizations))
	assert.Equal(t, intPtr(7), CeilingFor(Free, LimitAuditLogDays))
	assert.Equal(t, intPtr(100), CeilingFor(ProTeam, LimitMaxViews))
	assert.Nil(t, CeilingFor(Business, LimitMaxViews))
	assert.Nil(t, CeilingFor(Business, LimitOrganizations))
}

func TestValidateUsage(t *testing.T) {
	tests := []struct {
		name    string
		tier    Tier
		feature Feature
		value   any
		want    Result
	}{
		{"free burn", Free, FeatureBurnOnRead, true,
			Result{Message: "Burn-on-read is only available on Pro Team and Business plans"}},
		{"free burn off", Free, FeatureBurnOnRead, false, Result{Valid: true}},
		{"pro burn", ProTeam, FeatureBurnOnRead, true, Result{Valid: true}},
		{"business burn", Business, FeatureBurnOnRead, true, Result{Valid: true}},
		{"free 11 views", Free, FeatureMaxViews, 11,
			Result{Message: "Free tier is limited to 10 views per secret"}},
		{"free 10 views", Free, FeatureMaxViews, 10, Result{Valid: true}},
		{"free nil views", Free, FeatureMaxViews, nil, Result{Valid: true}},
		{"pro 50 views", ProTeam, FeatureMaxViews, 50, Result{Valid: true}},
		{"pro 101 views", ProTeam, FeatureMaxViews, 101,
			Result{Message: "Pro Team tier is limited to 100 views per secret"}},
		{"business huge views", Business, FeatureMaxViews, 1_000_000, Result{Valid: true}},
		{"business nil pointer views", Business, FeatureMaxViews, (*int)(nil), Result{Valid: true}},
		{"json number views", Free, FeatureMaxViews, float64(5), Result{Valid: true}},
		{"fractional views", Free, FeatureMaxViews, 2.5, Result{Message: "invalid value for maxViews"}},
		{"out of range views", Business, FeatureMaxViews, 1e300, Result{Message: "invalid value for maxViews"}},
		{"negative out of range views", Free, FeatureMaxViews, -1e300, Result{Message: "invalid value for maxViews"}},
		{"zero views", ProTeam, FeatureMaxViews, 0, Result{Message: "maxViews must be at least 1"}},
		{"free two orgs", Free, FeatureOrganizations, 2,
			Result{Message: "Free tier is limited to 1 organization"}},
		{"pro six orgs", ProTeam, FeatureOrganizations, 6,
			Result{Message: "Pro Team tier is limited to 5 organizations"}},
		{"business many orgs", Business, FeatureOrganizations, 500, Result{Valid: true}},
		{"free sso", Free, FeatureSSO, true, Result{Message: "SSO is only available on Business plans"}},
		{"pro allowlist", ProTeam, FeatureIPAllowlisting, true, Result{Valid: true}},
		{"pro recovery", ProTeam, FeatureSecretRecovery, true,
			Result{Message: "Secret recovery is only available on Business plans"}},
		{"wrong type", Free, FeatureBurnOnRead, "yes", Result{Message: "invalid value for burnOnRead"}},
		{"unknown feature", Free, Feature("warp"), true, Result{Message: `unknown feature "warp"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateUsage(tt.tier, tt.feature, tt.value))
		})
	}
}

func TestEffectiveMaxViews(t *testing.T) {
	assert.Equal(t, intPtr(10), EffectiveMaxViews(Free, nil))
	assert.Nil(t, EffectiveMaxViews(Business, nil))
	assert.Equal(t, intPtr(3), EffectiveMaxViews(Free, intPtr(3)))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Free", Free.DisplayName())
	assert.Equal(t, "Pro Team", ProTeam.DisplayName())
	assert.Equal(t, "Business", Business.DisplayName())
}
