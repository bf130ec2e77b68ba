// Package korad drives Korad KA/KD series programmable power supplies
// (and the many rebadged variants) over their USB serial command set.
package korad

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const (
	baudRate        = 9600
	portReadTimeout = 500 * time.Millisecond

	// The supply needs a moment after each command before it will accept
	// the next one. Commands and replies carry no terminator bytes.
	settleDelay  = 50 * time.Millisecond
	replyTimeout = time.Second

	// Parameters for set-point verification retries.
	maxSetAttempts   = 3
	setRetryInterval = 100 * time.Millisecond

	// Set-point and measurement replies are fixed width, e.g. "04.20".
	valueReplyLen = 5
	idnReplyLen   = 64
)

var (
	// ErrNoReply is returned when the supply sends nothing back.
	ErrNoReply = errors.New("no reply from supply")

	// ErrShortReply is returned when a reply ends before the expected width.
	ErrShortReply = errors.New("short reply from supply")

	// ErrMalformedReply is returned when a reply cannot be parsed.
	ErrMalformedReply = errors.New("malformed reply from supply")
)

// serialPort is what the driver needs from the transport. tarm's
// serial.Port provides all of it.
type serialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// Supply is a connection to one power supply. Methods taking a channel
// accept 0 or 1; single channel models only have channel 0.
type Supply struct {
	port      serialPort
	settle    time.Duration
	replyWait time.Duration
	retryWait time.Duration
}

// Open connects to the supply on the given serial device, e.g. /dev/ttyACM0.
func Open(device string) (*Supply, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baudRate,
		ReadTimeout: portReadTimeout,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening %s", device)
	}
	logrus.Debugf("Opened %s at %d baud", device, baudRate)
	return newSupply(port), nil
}

func newSupply(port serialPort) *Supply {
	return &Supply{
		port:      port,
		settle:    settleDelay,
		replyWait: replyTimeout,
		retryWait: setRetryInterval,
	}
}

// Close closes the serial port.
func (s *Supply) Close() error {
	return s.port.Close()
}

// Identify returns the supply's model identification string.
func (s *Supply) Identify() (string, error) {
	if err := s.send("*IDN?"); err != nil {
		return "", err
	}
	reply, err := s.readAvailable(idnReplyLen)
	if err != nil {
		return "", pkgerrors.Wrap(err, "reading identification")
	}
	return reply, nil
}

// SetVoltageLimit programs the channel's output voltage limit in volts.
// The set point is read back to verify the supply accepted it.
func (s *Supply) SetVoltageLimit(channel int, volts float64) error {
	ch, err := wireChannel(channel)
	if err != nil {
		return err
	}
	want := fmt.Sprintf("%05.2f", volts)
	set := fmt.Sprintf("VSET%d:%s", ch, want)
	query := fmt.Sprintf("VSET%d?", ch)
	return s.setVerified(set, query, want, maxSetAttempts)
}

// SetCurrentLimit programs the channel's output current limit in amps.
// The set point is read back to verify the supply accepted it.
func (s *Supply) SetCurrentLimit(channel int, amps float64) error {
	ch, err := wireChannel(channel)
	if err != nil {
		return err
	}
	want := fmt.Sprintf("%05.3f", amps)
	set := fmt.Sprintf("ISET%d:%s", ch, want)
	query := fmt.Sprintf("ISET%d?", ch)
	return s.setVerified(set, query, want, maxSetAttempts)
}

// SetOutputEnabled turns power delivery on or off. The switch is global
// to the device, not per channel.
func (s *Supply) SetOutputEnabled(channel int, on bool) error {
	if _, err := wireChannel(channel); err != nil {
		return err
	}
	cmd := "OUT0"
	if on {
		cmd = "OUT1"
	}
	return s.send(cmd)
}

// ReadOutputVoltage returns the measured output voltage in volts.
func (s *Supply) ReadOutputVoltage(channel int) (float64, error) {
	ch, err := wireChannel(channel)
	if err != nil {
		return 0, err
	}
	return s.requestFloat(fmt.Sprintf("VOUT%d?", ch))
}

// ReadOutputCurrent returns the measured output current in amps.
func (s *Supply) ReadOutputCurrent(channel int) (float64, error) {
	ch, err := wireChannel(channel)
	if err != nil {
		return 0, err
	}
	return s.requestFloat(fmt.Sprintf("IOUT%d?", ch))
}

// wireChannel maps channel 0 or 1 to the protocol's channel numbering.
func wireChannel(channel int) (int, error) {
	if channel != 0 && channel != 1 {
		return 0, pkgerrors.Errorf("channel %d out of range", channel)
	}
	return channel + 1, nil
}

// setVerified sends a set command and reads the set point back until it
// matches, retrying the write if it does not.
func (s *Supply) setVerified(set, query, want string, retries int) error {
	if err := s.send(set); err != nil {
		if retries <= 1 {
			return err
		}
		time.Sleep(s.retryWait)
		return s.setVerified(set, query, want, retries-1)
	}
	got, err := s.request(query, valueReplyLen)
	if err != nil {
		if retries <= 1 {
			return err
		}
		time.Sleep(s.retryWait)
		return s.setVerified(set, query, want, retries-1)
	}
	if got != want {
		if retries <= 1 {
			return pkgerrors.Errorf("programmed %s but supply reports %s", set, got)
		}
		time.Sleep(s.retryWait)
		return s.setVerified(set, query, want, retries-1)
	}
	return nil
}

func (s *Supply) requestFloat(cmd string) (float64, error) {
	reply, err := s.request(cmd, valueReplyLen)
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrMalformedReply, "%s returned %q", cmd, reply)
	}
	return val, nil
}

func (s *Supply) request(cmd string, length int) (string, error) {
	if err := s.send(cmd); err != nil {
		return "", err
	}
	reply, err := s.readReply(length)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "reading %s reply", cmd)
	}
	return string(reply), nil
}

func (s *Supply) send(cmd string) error {
	s.drain()
	logrus.Tracef("korad tx: %s", cmd)
	n, err := s.port.Write([]byte(cmd))
	if err != nil {
		return pkgerrors.Wrapf(err, "sending %s", cmd)
	}
	if n != len(cmd) {
		return pkgerrors.Errorf("wrote %d bytes, expected %d", n, len(cmd))
	}
	time.Sleep(s.settle)
	return nil
}

// drain discards unread input so replies stay aligned with their
// commands. Some firmware appends a stray byte to ISET? replies.
func (s *Supply) drain() {
	if err := s.port.Flush(); err != nil {
		logrus.Debugf("Flushing port: %v", err)
	}
}

// readReply reads exactly length bytes, accumulating short reads until
// the reply timeout passes.
func (s *Supply) readReply(length int) ([]byte, error) {
	buf := make([]byte, length)
	off := 0
	deadline := time.Now().Add(s.replyWait)
	for off < length {
		n, err := s.port.Read(buf[off:])
		off += n
		if err != nil && err != io.EOF {
			return nil, pkgerrors.Wrap(err, "reading from port")
		}
		if n == 0 && time.Now().After(deadline) {
			if off == 0 {
				return nil, ErrNoReply
			}
			return nil, pkgerrors.Wrapf(ErrShortReply, "%d of %d bytes", off, length)
		}
	}
	logrus.Tracef("korad rx: %s", buf)
	return buf, nil
}

// readAvailable reads a variable length reply: whatever arrives before
// the first idle read, up to max bytes.
func (s *Supply) readAvailable(max int) (string, error) {
	buf := make([]byte, max)
	off := 0
	deadline := time.Now().Add(s.replyWait)
	for off < max {
		n, err := s.port.Read(buf[off:])
		off += n
		if err != nil && err != io.EOF {
			return "", pkgerrors.Wrap(err, "reading from port")
		}
		if n == 0 {
			if off > 0 || time.Now().After(deadline) {
				break
			}
		}
	}
	reply := strings.Trim(string(buf[:off]), "\x00 \r\n")
	if reply == "" {
		return "", ErrNoReply
	}
	logrus.Tracef("korad rx: %s", reply)
	return reply, nil
}
