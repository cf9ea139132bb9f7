package types

// DeviceType is the scheduling class of a device.
type DeviceType string

const (
	DeviceEssential DeviceType = "essential"
	DeviceFlexible  DeviceType = "flexible"
	DeviceOptional  DeviceType = "optional"
)

// Device is a schedulable load attached to the microgrid.
type Device struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	PowerKW           float64     `json:"power_kw"`
	Type              DeviceType  `json:"type"`
	MinRuntimeMinutes int         `json:"min_runtime_minutes"`
	Priority          int         `json:"priority"` // 1..5, 1 is highest
	PreferredHours    *HourWindow `json:"preferred_hours,omitempty"`
	IsActive          bool        `json:"is_active"`
	IrrigationPump    bool        `json:"irrigation_pump"`
}

// Validate enforces the device invariants, including the priority bands per
// device type (essential 1..2, optional 4..5).
func (d Device) Validate() error {
	if d.ID == "" {
		return Errorf(ErrConfigurationInvalid, "device id must not be empty")
	}
	if d.PowerKW <= 0 {
		return Errorf(ErrConfigurationInvalid, "device %s: power_kw must be > 0, got %g", d.ID, d.PowerKW)
	}
	if d.MinRuntimeMinutes < 0 {
		return Errorf(ErrConfigurationInvalid, "device %s: min_runtime_minutes must be >= 0, got %d", d.ID, d.MinRuntimeMinutes)
	}
	if d.Priority < 1 || d.Priority > 5 {
		return Errorf(ErrConfigurationInvalid, "device %s: priority %d out of range 1..5", d.ID, d.Priority)
	}
	switch d.Type {
	case DeviceEssential:
		if d.Priority > 2 {
			return Errorf(ErrConfigurationInvalid, "device %s: essential devices require priority 1..2, got %d", d.ID, d.Priority)
		}
	case DeviceFlexible:
	case DeviceOptional:
		if d.Priority < 4 {
			return Errorf(ErrConfigurationInvalid, "device %s: optional devices require priority 4..5, got %d", d.ID, d.Priority)
		}
	default:
		return Errorf(ErrConfigurationInvalid, "device %s: unknown type %q", d.ID, d.Type)
	}
	if d.PreferredHours != nil {
		if err := d.PreferredHours.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// typeWeight orders device classes for scheduling; lower commits first.
func (d Device) typeWeight() int {
	switch d.Type {
	case DeviceEssential:
		return 0
	case DeviceFlexible:
		return 1
	default:
		return 2
	}
}

// Less is the scheduling order: priority ascending, then class weight
// (essential before flexible before optional), then power ascending so small
// essential loads commit before large flexible ones. ID breaks remaining ties
// to keep runs deterministic.
func (d Device) Less(other Device) bool {
	if d.Priority != other.Priority {
		return d.Priority < other.Priority
	}
	if d.typeWeight() != other.typeWeight() {
		return d.typeWeight() < other.typeWeight()
	}
	if d.PowerKW != other.PowerKW {
		return d.PowerKW < other.PowerKW
	}
	return d.ID < other.ID
}
