// Package configmodel defines the Config entity from spec.md §3: a mapping
// from flag key to a flattened flag record carrying the variation value
// plus evaluation metadata. Fields absent from the server response are
// omitted from the struct (pointer fields left nil), never set to a null
// sentinel, per the Config invariant.
package configmodel

import "github.com/shoaib-customfit/cf-go-client-sdk/internal/value"

// Record is one flag's flattened evaluation record. Value is never null for
// a record obtained from a successful fetch (spec.md §3 invariant).
type Record struct {
	Value       value.Value `json:"value"`
	ConfigID    *string     `json:"config_id,omitempty"`
	VariationID *string     `json:"variation_id,omitempty"`
	Experience  *string     `json:"experience,omitempty"`
	RuleID      *string     `json:"rule_id,omitempty"`
	Version     *float64    `json:"version,omitempty"`
	Priority    *int        `json:"priority,omitempty"`
}

// Equal reports whether two records are identical by value, used by the
// Config Manager to compute the set of changed keys between two snapshots
// (spec.md §4.6).
func (r Record) Equal(other Record) bool {
	if !r.Value.Equal(other.Value) {
		return false
	}
	if !equalStrPtr(r.ConfigID, other.ConfigID) {
		return false
	}
	if !equalStrPtr(r.VariationID, other.VariationID) {
		return false
	}
	if !equalStrPtr(r.Experience, other.Experience) {
		return false
	}
	if !equalStrPtr(r.RuleID, other.RuleID) {
		return false
	}
	if !equalFloatPtr(r.Version, other.Version) {
		return false
	}
	if !equalIntPtr(r.Priority, other.Priority) {
		return false
	}
	return true
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Config is the whole flattened flag map, keyed by flag key.
type Config map[string]Record

// Clone returns a shallow copy of the map (records are value types), used
// by the Config Manager to publish a new copy-on-write snapshot without
// aliasing the caller's map.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// DiffKeys returns the set of flag keys whose record differs (added,
// removed, or changed) between old and new, per spec.md §4.6.
func DiffKeys(oldCfg, newCfg Config) []string {
	changed := make([]string, 0)
	seen := make(map[string]struct{}, len(oldCfg)+len(newCfg))
	for k, nv := range newCfg {
		seen[k] = struct{}{}
		if ov, ok := oldCfg[k]; !ok || !ov.Equal(nv) {
			changed = append(changed, k)
		}
	}
	for k := range oldCfg {
		if _, ok := seen[k]; ok {
			continue
		}
		changed = append(changed, k)
	}
	return changed
}
