// Package charge implements CC/CV lithium-ion charging through a bench
// power supply: hold the charge current until the cell reaches its
// voltage ceiling, hold the ceiling while current tapers, and stop once
// the current falls to a set fraction of the original charge current.
package charge

import (
	pkgerrors "github.com/pkg/errors"
)

// Params configures one charge run. Values are fixed before the run
// starts and never change during it.
type Params struct {
	// BatteryCapacityAh is the labeled capacity of the battery in amp hours.
	BatteryCapacityAh float64

	// ChargeCurrentA is the constant-current phase current in amps.
	// Zero means half the battery capacity.
	ChargeCurrentA float64

	// ChargeVoltageV is the constant-voltage phase voltage in volts.
	// For li-ion cells this should be at most 4.2.
	ChargeVoltageV float64

	// CutoffRatio is the fraction of ChargeCurrentA at which charging
	// is considered complete.
	CutoffRatio float64

	// Channel selects the supply output to charge on, 0 or 1.
	Channel int

	// NumSamples is how many readings are averaged per measurement.
	// Zero means a single reading with no averaging.
	NumSamples int

	// MaxSuccessiveFailures is how many fully failed measurements in a
	// row are tolerated before charging is aborted.
	MaxSuccessiveFailures int
}

// Resolve fills in derived values and validates the result.
func (p Params) Resolve() (Params, error) {
	if p.BatteryCapacityAh <= 0 {
		return Params{}, pkgerrors.Errorf("battery capacity must be above 0, got %v", p.BatteryCapacityAh)
	}
	if p.ChargeCurrentA == 0 {
		p.ChargeCurrentA = p.BatteryCapacityAh / 2
	}
	if p.ChargeCurrentA <= 0 {
		return Params{}, pkgerrors.Errorf("charge current must be above 0, got %v", p.ChargeCurrentA)
	}
	if p.ChargeVoltageV <= 0 {
		return Params{}, pkgerrors.Errorf("charge voltage must be above 0, got %v", p.ChargeVoltageV)
	}
	if p.CutoffRatio <= 0 || p.CutoffRatio > 1 {
		return Params{}, pkgerrors.Errorf("charge cutoff ratio must be in (0, 1], got %v", p.CutoffRatio)
	}
	if p.Channel != 0 && p.Channel != 1 {
		return Params{}, pkgerrors.Errorf("channel must be 0 or 1, got %d", p.Channel)
	}
	if p.NumSamples < 0 {
		return Params{}, pkgerrors.Errorf("number of samples must be 0 or above, got %d", p.NumSamples)
	}
	if p.MaxSuccessiveFailures < 0 {
		return Params{}, pkgerrors.Errorf("max successive failures must be 0 or above, got %d", p.MaxSuccessiveFailures)
	}
	return p, nil
}
