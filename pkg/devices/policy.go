// Package devices implements the scheduling policy over the device fleet:
// ordering, per-hour eligibility and runtime hints. The policy is stateless;
// it produces orderings and predicates only.
package devices

import (
	"sort"

	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// SchedulingOrder returns a copy of the fleet sorted for scheduling:
// priority ascending, essential before flexible before optional, then
// power_kw ascending so small essential loads commit before large flexible
// loads. The input slice is not modified.
func SchedulingOrder(fleet []types.Device) []types.Device {
	ordered := make([]types.Device, len(fleet))
	copy(ordered, fleet)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Less(ordered[j])
	})
	return ordered
}

// Eligible reports whether the device may run in a bucket starting at local
// hour h. Preferred-hours windows wrap past midnight (start=22, end=6 covers
// 22,23,0,...,5).
func Eligible(d types.Device, h int) bool {
	if !d.IsActive {
		return false
	}
	if d.PreferredHours == nil {
		return true
	}
	return d.PreferredHours.Contains(h)
}

// MinRuntimeBuckets converts the device's minimum runtime to whole scheduling
// buckets, rounding up. Zero means no runtime constraint.
func MinRuntimeBuckets(d types.Device) int {
	if d.MinRuntimeMinutes <= 0 {
		return 0
	}
	return (d.MinRuntimeMinutes + 59) / 60
}

// FitsHorizon reports whether the device's minimum runtime fits within the
// scheduling horizon. Devices whose runtime exceeds the horizon are treated
// as ineligible for the whole run.
func FitsHorizon(d types.Device, horizonHours int) bool {
	return MinRuntimeBuckets(d) <= horizonHours
}

// IsIrrigationPump identifies devices subject to the look-ahead deferral
// rule. The explicit flag is authoritative.
func IsIrrigationPump(d types.Device) bool {
	return d.IrrigationPump
}

// EssentialLoadKW sums the power of essential, active devices eligible at
// local hour h.
func EssentialLoadKW(fleet []types.Device, h int) float64 {
	var total float64
	for _, d := range fleet {
		if d.Type == types.DeviceEssential && Eligible(d, h) {
			total += d.PowerKW
		}
	}
	return total
}

// ValidateFleet validates every device and rejects duplicate IDs.
func ValidateFleet(fleet []types.Device) error {
	seen := make(map[string]struct{}, len(fleet))
	for _, d := range fleet {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, ok := seen[d.ID]; ok {
			return types.Errorf(types.ErrConfigurationInvalid, "duplicate device id %s", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
