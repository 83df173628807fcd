package launch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleAllowsEmptyRuleListAlwaysAllows(t *testing.T) {
	assert.True(t, RuleAllows(nil, "linux", "x86_64", Features{}))
}

func TestRuleAllowsLastMatchingRuleWins(t *testing.T) {
	rules := []Rule{
		{Action: "allow"},
		{Action: "disallow", OS: &RuleOs{Name: "osx"}},
	}
	assert.True(t, RuleAllows(rules, "linux", "x86_64", Features{}), "osx-only disallow shouldn't match linux")
	assert.False(t, RuleAllows(rules, "osx", "x86_64", Features{}), "later matching rule overrides the allow")
}

func TestRuleAllowsArchRestriction(t *testing.T) {
	rules := []Rule{
		{Action: "allow", OS: &RuleOs{Arch: "x86"}},
	}
	assert.True(t, RuleAllows(rules, "windows", "x86", Features{}))
	assert.False(t, RuleAllows(rules, "windows", "x86_64", Features{}))
}

func TestRuleAllowsFeatureGate(t *testing.T) {
	rules := []Rule{
		{Action: "allow", Features: map[string]bool{"is_demo_user": true}},
	}
	assert.False(t, RuleAllows(rules, "linux", "x86_64", Features{}))
	assert.True(t, RuleAllows(rules, "linux", "x86_64", Features{IsDemoUser: true}))
}

func TestCurrentOSKeyAndArchAreNonEmpty(t *testing.T) {
	assert.NotEmpty(t, CurrentOSKey())
	assert.NotEmpty(t, CurrentArch())
}
