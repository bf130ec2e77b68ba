package charge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsDerivedChargeCurrent(t *testing.T) {
	p, err := Params{BatteryCapacityAh: 1.4, ChargeVoltageV: 4.2, CutoffRatio: 0.1}.Resolve()
	assert.NoError(t, err)
	assert.Equal(t, 0.7, p.ChargeCurrentA)

	// An explicit charge current is kept.
	p, err = Params{BatteryCapacityAh: 1.4, ChargeCurrentA: 0.5, ChargeVoltageV: 4.2, CutoffRatio: 0.1}.Resolve()
	assert.NoError(t, err)
	assert.Equal(t, 0.5, p.ChargeCurrentA)
}

func TestParamsValidation(t *testing.T) {
	valid := Params{BatteryCapacityAh: 1.4, ChargeVoltageV: 4.2, CutoffRatio: 0.1}
	_, err := valid.Resolve()
	assert.NoError(t, err)

	p := valid
	p.BatteryCapacityAh = 0
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "battery capacity")

	p = valid
	p.BatteryCapacityAh = -1
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "battery capacity")

	p = valid
	p.ChargeCurrentA = -0.5
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "charge current")

	p = valid
	p.ChargeVoltageV = 0
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "charge voltage")

	p = valid
	p.CutoffRatio = 0
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "cutoff ratio")

	p = valid
	p.CutoffRatio = 1.5
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "cutoff ratio")

	// A ratio of exactly 1 is allowed.
	p = valid
	p.CutoffRatio = 1
	_, err = p.Resolve()
	assert.NoError(t, err)

	p = valid
	p.Channel = 2
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "channel")

	p = valid
	p.Channel = -1
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "channel")

	p = valid
	p.NumSamples = -1
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "samples")

	p = valid
	p.MaxSuccessiveFailures = -1
	_, err = p.Resolve()
	assert.ErrorContains(t, err, "successive failures")
}
