package korad

import "fmt"

// ChannelMode reports whether a channel's regulator is holding the
// current limit or the voltage limit.
type ChannelMode uint8

const (
	ModeConstantCurrent ChannelMode = iota
	ModeConstantVoltage
)

func (m ChannelMode) String() string {
	switch m {
	case ModeConstantCurrent:
		return "CC"
	case ModeConstantVoltage:
		return "CV"
	default:
		return "unknown"
	}
}

// Status is the decoded STATUS? byte.
type Status struct {
	Channel1 ChannelMode
	Channel2 ChannelMode
	Beep     bool
	OCP      bool
	OutputOn bool
}

func (st Status) String() string {
	return fmt.Sprintf("ch1=%s ch2=%s output=%s beep=%s ocp=%s",
		st.Channel1, st.Channel2, onOff(st.OutputOn), onOff(st.Beep), onOff(st.OCP))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Status reads and decodes the supply's status byte.
func (s *Supply) Status() (Status, error) {
	reply, err := s.request("STATUS?", 1)
	if err != nil {
		return Status{}, err
	}
	return parseStatus(reply[0]), nil
}

func parseStatus(b byte) Status {
	mode := func(bit byte) ChannelMode {
		if b&bit != 0 {
			return ModeConstantVoltage
		}
		return ModeConstantCurrent
	}
	return Status{
		Channel1: mode(1 << 0),
		Channel2: mode(1 << 1),
		Beep:     b&(1<<4) != 0,
		OCP:      b&(1<<5) != 0,
		OutputOn: b&(1<<6) != 0,
	}
}
