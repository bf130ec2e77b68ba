package charge

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PowerSupply is the set of instrument operations the controller needs.
// Any returned error is treated as a failure to communicate with the
// supply; the controller never looks at error types or the wire protocol.
type PowerSupply interface {
	SetCurrentLimit(channel int, amps float64) error
	SetVoltageLimit(channel int, volts float64) error
	SetOutputEnabled(channel int, on bool) error
	ReadOutputCurrent(channel int) (float64, error)
	ReadOutputVoltage(channel int) (float64, error)
}

// Phase of a charge run. Progression is one way: constant current, then
// constant voltage, then stopped.
type Phase uint8

const (
	ConstantCurrent Phase = iota
	ConstantVoltage
	Stopped
)

func (p Phase) String() string {
	switch p {
	case ConstantCurrent:
		return "constant-current"
	case ConstantVoltage:
		return "constant-voltage"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// The supply regulates a few tens of millivolts under the programmed
	// ceiling once its voltage limiter takes over, and readings carry
	// 10mV resolution. A measured voltage this close to the ceiling
	// means the constant-current phase is over.
	voltageCeilingMargin = 0.05

	defaultInterval = time.Second
)

// SafetyStopError is returned when charging is aborted because too many
// measurements in a row failed.
type SafetyStopError struct {
	Failures int
}

func (e *SafetyStopError) Error() string {
	return fmt.Sprintf("reached maximum number of successive failures (%d)", e.Failures)
}

// Controller runs one CC/CV charge against a power supply.
type Controller struct {
	psu      PowerSupply
	params   Params
	interval time.Duration
}

// NewController returns a controller charging with the given resolved
// parameters.
func NewController(psu PowerSupply, params Params) *Controller {
	return &Controller{
		psu:      psu,
		params:   params,
		interval: defaultInterval,
	}
}

// session is the mutable state of one charge run.
type session struct {
	phase    Phase
	failures int
	cutoffA  float64
}

func newSession(p Params) *session {
	return &session{
		phase:   ConstantCurrent,
		cutoffA: p.ChargeCurrentA * p.CutoffRatio,
	}
}

// Run charges the battery until the tapering current reaches the cutoff,
// the failure budget is exhausted, or ctx is cancelled. Output is
// disabled on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	ses := newSession(c.params)
	logrus.Infof("Charging %v Ah battery until output current reaches %.3f A",
		c.params.BatteryCapacityAh, ses.cutoffA)

	defer func() {
		if err := c.psu.SetOutputEnabled(c.params.Channel, false); err != nil {
			logrus.Errorf("Disabling output: %v", err)
		}
	}()

	if err := c.setup(); err != nil {
		return err
	}

	for {
		if err := c.step(ses); err != nil {
			return err
		}
		if ses.phase == Stopped {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}
}

// setup quiesces the output, programs the set points, and enables output.
func (c *Controller) setup() error {
	ch := c.params.Channel
	if err := c.psu.SetOutputEnabled(ch, false); err != nil {
		return pkgerrors.Wrap(err, "disabling output before configuring")
	}
	if err := c.psu.SetCurrentLimit(ch, c.params.ChargeCurrentA); err != nil {
		return pkgerrors.Wrap(err, "setting current limit")
	}
	if err := c.psu.SetVoltageLimit(ch, c.params.ChargeVoltageV); err != nil {
		return pkgerrors.Wrap(err, "setting voltage limit")
	}
	logrus.Infof("Programmed %.3f A, %.2f V on channel %d", c.params.ChargeCurrentA, c.params.ChargeVoltageV, ch)
	if err := c.psu.SetOutputEnabled(ch, true); err != nil {
		return pkgerrors.Wrap(err, "enabling output")
	}
	return nil
}

// step runs one measurement iteration: sample the output, track the
// failure budget, and move the phase along when the readings say so.
func (c *Controller) step(ses *session) error {
	m := c.sample()
	if m.currentCount == 0 {
		ses.failures++
		logrus.Warnf("No successful current reading (%d successive failures)", ses.failures)
		if ses.failures > c.params.MaxSuccessiveFailures {
			ses.phase = Stopped
			if err := c.psu.SetOutputEnabled(c.params.Channel, false); err != nil {
				logrus.Errorf("Disabling output: %v", err)
			}
			return &SafetyStopError{Failures: ses.failures}
		}
		return nil
	}
	ses.failures = 0

	switch ses.phase {
	case ConstantCurrent:
		if m.voltageCount > 0 && m.avgVolts >= c.params.ChargeVoltageV-voltageCeilingMargin {
			logrus.Info("Voltage ceiling reached, supply is voltage limiting")
			ses.phase = ConstantVoltage
		}
		c.logProgress(ses, m)
	case ConstantVoltage:
		c.logProgress(ses, m)
		if m.avgAmps <= ses.cutoffA {
			logrus.Info("Reached cutoff. Ending output")
			ses.phase = Stopped
		}
	}
	return nil
}

// measurement is one iteration's averaged readings. Currents and
// voltages are averaged separately over whichever reads succeeded.
type measurement struct {
	avgAmps      float64
	avgVolts     float64
	instAmps     float64
	currentCount int
	voltageCount int
}

// sample reads the output NumSamples times, at least once, and averages
// the successful reads.
func (c *Controller) sample() measurement {
	n := c.params.NumSamples
	if n < 1 {
		n = 1
	}
	var m measurement
	var ampSum, voltSum float64
	for i := 0; i < n; i++ {
		amps, err := c.psu.ReadOutputCurrent(c.params.Channel)
		if err != nil {
			logrus.Debugf("Reading output current: %v", err)
		} else {
			ampSum += amps
			m.instAmps = amps
			m.currentCount++
		}
		volts, err := c.psu.ReadOutputVoltage(c.params.Channel)
		if err != nil {
			logrus.Debugf("Reading output voltage: %v", err)
		} else {
			voltSum += volts
			m.voltageCount++
		}
	}
	if m.currentCount > 0 {
		m.avgAmps = ampSum / float64(m.currentCount)
	}
	if m.voltageCount > 0 {
		m.avgVolts = voltSum / float64(m.voltageCount)
	}
	return m
}

func (c *Controller) logProgress(ses *session, m measurement) {
	if ses.phase == ConstantCurrent && m.voltageCount == 0 {
		logrus.Infof("Current: %.3f (Inst: %.3f)  Cutoff: %.3f", m.avgAmps, m.instAmps, ses.cutoffA)
		return
	}
	level := chargeEstimate(ses.phase, m.avgVolts, m.avgAmps,
		c.params.ChargeVoltageV, c.params.ChargeCurrentA, ses.cutoffA)
	logrus.Infof("Current: %.3f (Inst: %.3f)  Cutoff: %.3f  Charge level: %.1f%%",
		m.avgAmps, m.instAmps, ses.cutoffA, level*100)
}
