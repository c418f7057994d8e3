package domain

import "sort"

// DefaultDailyCap is the per-user ceiling across all earn types in a trailing 24h window.
const DefaultDailyCap int64 = 2000

// Policy caps a single earn type.
type Policy struct {
	MaxPerEvent      int64 `yaml:"max_per_event" json:"max_per_event"`
	CooldownSec      int64 `yaml:"cooldown_sec" json:"cooldown_sec"`
	RequireSignature bool  `yaml:"require_signature" json:"require_signature"`
}

// PolicyTable is the full set of earn rules in effect.
type PolicyTable struct {
	DailyCap int64               `yaml:"daily_cap" json:"daily_cap"`
	Types    map[EarnType]Policy `yaml:"types" json:"types"`
}

// DefaultPolicyTable returns a fresh copy of the built-in rules.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		DailyCap: DefaultDailyCap,
		Types: map[EarnType]Policy{
			EarnExtensionFarm:  {MaxPerEvent: 200, CooldownSec: 10},
			EarnUptimeMinute:   {MaxPerEvent: 5, CooldownSec: 55},
			EarnBandwidthShare: {MaxPerEvent: 100, CooldownSec: 30, RequireSignature: true},
			EarnReferral:       {MaxPerEvent: 500},
			EarnReferralBonus:  {MaxPerEvent: 250},
		},
	}
}

// Lookup returns the policy for t and whether t is a recognized type.
func (pt PolicyTable) Lookup(t EarnType) (Policy, bool) {
	p, ok := pt.Types[t]
	return p, ok
}

// TypeNames lists recognized types in stable order.
func (pt PolicyTable) TypeNames() []string {
	names := make([]string, 0, len(pt.Types))
	for t := range pt.Types {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
