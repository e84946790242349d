package skill

import "sort"

// SelectVariant picks the best available variant among those registered on a
// ToolCommand: highest priority first, among variants whose status is
// VariantAvailable. If none are available, the highest-priority degraded
// variant is returned; if none are available or degraded, the highest
// priority variant of any status is returned as a last resort. Returns the
// zero Variant and false if the command has none registered.
//
// Grounded on original_source's omni.core.skills.variants module: a
// tagged-variant record where selection is "best available by status then
// priority" for deep dispatch hierarchies.
func SelectVariant(cmd ToolCommand) (Variant, bool) {
	if len(cmd.Variants) == 0 {
		return Variant{}, false
	}
	ordered := make([]Variant, len(cmd.Variants))
	copy(ordered, cmd.Variants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, status := range []VariantStatus{VariantAvailable, VariantDegraded} {
		for _, v := range ordered {
			if v.Status == status {
				return v, true
			}
		}
	}
	return ordered[0], true
}
