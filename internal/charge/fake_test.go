package charge

import "errors"

var errRead = errors.New("read failed")

// reading is one scripted measurement result.
type reading struct {
	value float64
	err   error
}

// fakeSupply is a test double that returns scripted measurements and
// records every operation. When a script runs out the last entry
// repeats.
type fakeSupply struct {
	currents []reading
	voltages []reading

	currentIdx int
	voltageIdx int

	currentReads int
	voltageReads int

	// enables records every SetOutputEnabled value in order.
	enables []bool

	limitA float64
	limitV float64

	failSetCurrent error
	failSetVoltage error
	failEnable     error
}

func ok(values ...float64) []reading {
	rs := make([]reading, len(values))
	for i, v := range values {
		rs[i] = reading{value: v}
	}
	return rs
}

func failing(n int) []reading {
	rs := make([]reading, n)
	for i := range rs {
		rs[i] = reading{err: errRead}
	}
	return rs
}

func (f *fakeSupply) SetCurrentLimit(channel int, amps float64) error {
	if f.failSetCurrent != nil {
		return f.failSetCurrent
	}
	f.limitA = amps
	return nil
}

func (f *fakeSupply) SetVoltageLimit(channel int, volts float64) error {
	if f.failSetVoltage != nil {
		return f.failSetVoltage
	}
	f.limitV = volts
	return nil
}

func (f *fakeSupply) SetOutputEnabled(channel int, on bool) error {
	f.enables = append(f.enables, on)
	if on && f.failEnable != nil {
		return f.failEnable
	}
	return nil
}

func (f *fakeSupply) ReadOutputCurrent(channel int) (float64, error) {
	f.currentReads++
	r := next(f.currents, &f.currentIdx)
	return r.value, r.err
}

func (f *fakeSupply) ReadOutputVoltage(channel int) (float64, error) {
	f.voltageReads++
	r := next(f.voltages, &f.voltageIdx)
	return r.value, r.err
}

func next(script []reading, idx *int) reading {
	if len(script) == 0 {
		return reading{err: errors.New("no readings scripted")}
	}
	r := script[*idx]
	if *idx < len(script)-1 {
		*idx++
	}
	return r
}
