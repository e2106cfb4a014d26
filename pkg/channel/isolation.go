package channel

import (
	"errors"
	"fmt"
	"slices"
)

// Permits reports whether a channel declaring caps may run under the policy.
// A channel that declares any capability must be covered by a non-empty
// policy, denied entries always win, and a non-empty allow list acts as a
// whitelist.
func (p IsolationPolicy) Permits(caps []Capability) error {
	if len(caps) == 0 {
		return nil
	}
	if len(p.AllowedCapabilities) == 0 && len(p.DeniedCapabilities) == 0 {
		return errors.New("channels declaring capabilities require an isolation policy")
	}
	for _, c := range caps {
		if slices.Contains(p.DeniedCapabilities, c) {
			return fmt.Errorf("capability %s is explicitly denied", c)
		}
	}
	if len(p.AllowedCapabilities) == 0 {
		return nil
	}
	for _, c := range caps {
		if !slices.Contains(p.AllowedCapabilities, c) {
			return fmt.Errorf("capability %s not permitted", c)
		}
	}
	return nil
}

// resolvePolicy overlays a channel's own policy block on the manifest defaults.
// An override that ends up empty keeps the defaults in force.
func resolvePolicy(defaults IsolationPolicy, override *IsolationPolicy) IsolationPolicy {
	if override == nil {
		return defaults
	}
	merged := override.Merge(defaults)
	if len(merged.AllowedCapabilities) == 0 && len(merged.DeniedCapabilities) == 0 {
		return defaults
	}
	return merged
}
