package korad

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	st := parseStatus(0x00)
	assert.Equal(t, ModeConstantCurrent, st.Channel1)
	assert.Equal(t, ModeConstantCurrent, st.Channel2)
	assert.False(t, st.Beep)
	assert.False(t, st.OCP)
	assert.False(t, st.OutputOn)

	st = parseStatus(0x01)
	assert.Equal(t, ModeConstantVoltage, st.Channel1)
	assert.Equal(t, ModeConstantCurrent, st.Channel2)

	st = parseStatus(0x02)
	assert.Equal(t, ModeConstantCurrent, st.Channel1)
	assert.Equal(t, ModeConstantVoltage, st.Channel2)

	st = parseStatus(0x10)
	assert.True(t, st.Beep)

	st = parseStatus(0x20)
	assert.True(t, st.OCP)

	st = parseStatus(0x40)
	assert.True(t, st.OutputOn)
}

func TestStatusOverWire(t *testing.T) {
	p := &scriptPort{script: []exchange{
		{"STATUS?", "\x41"},
	}}
	s := newTestSupply(p)

	st, err := s.Status()
	assert.NoError(t, err)
	assert.Equal(t, ModeConstantVoltage, st.Channel1)
	assert.True(t, st.OutputOn)
	assert.Equal(t, "ch1=CV ch2=CC output=on beep=off ocp=off", st.String())
}

func TestStatusNoReply(t *testing.T) {
	p := &scriptPort{}
	s := newTestSupply(p)

	_, err := s.Status()
	assert.Error(t, err)
}
