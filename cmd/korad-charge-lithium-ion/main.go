/*
korad-charge-lithium-ion - Charges li-ion batteries through a Korad power supply.
Copyright (C) 2025, Korad Tools

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/korad-tools/korad-charge/internal/charge"
	"github.com/korad-tools/korad-charge/korad"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logrus.StandardLogger()

type argSpec struct {
	Port                  string  `arg:"-p,--port,required" help:"Serial device the power supply is connected to, e.g. /dev/ttyACM0"`
	Capacity              float64 `arg:"-c,--capacity,required" help:"Labeled capacity of the battery, in amp hours"`
	ChargeCurrent         float64 `arg:"--charge-current" help:"Current for the constant-current phase, in amps. Defaults to half the capacity"`
	ChargeVoltage         float64 `arg:"--charge-voltage" help:"Voltage for the constant-voltage phase, in volts. Should be at most 4.2 for li-ion cells"`
	ChargeCutoffRatio     float64 `arg:"--charge-cutoff-ratio" help:"Fraction of the charge current at which to stop charging"`
	Channel               int     `arg:"--channel" help:"Output channel to charge on, 0 or 1"`
	NumSamples            int     `arg:"--num-samples" help:"Number of readings averaged per measurement"`
	MaxSuccessiveFailures int     `arg:"--max-successive-failures" help:"Stop charging after this many successive failed measurements"`
	LogLevel              string  `arg:"-l, --log-level" default:"info" help:"Set the logging level (trace, debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{
		ChargeVoltage:         4.2,
		ChargeCutoffRatio:     0.1,
		NumSamples:            3,
		MaxSuccessiveFailures: 5,
	}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(logrus.TraceLevel)
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("%s [%s] %s\n",
		entry.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message)), nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	params, err := charge.Params{
		BatteryCapacityAh:     args.Capacity,
		ChargeCurrentA:        args.ChargeCurrent,
		ChargeVoltageV:        args.ChargeVoltage,
		CutoffRatio:           args.ChargeCutoffRatio,
		Channel:               args.Channel,
		NumSamples:            args.NumSamples,
		MaxSuccessiveFailures: args.MaxSuccessiveFailures,
	}.Resolve()
	if err != nil {
		return err
	}

	supply, err := korad.Open(args.Port)
	if err != nil {
		return err
	}
	defer supply.Close()

	id, err := supply.Identify()
	if err != nil {
		return fmt.Errorf("no response from power supply on %s: %v", args.Port, err)
	}
	log.Info("Connected to ", id)

	status, err := supply.Status()
	if err != nil {
		return fmt.Errorf("reading supply status: %v", err)
	}
	log.Debug("Supply status: ", status)
	if status.OutputOn {
		log.Warn("Output is already enabled, it will be disabled before configuring")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Infof("Caught signal %s: stopping charge.", sig)
		cancel()
	}()

	err = charge.NewController(supply, params).Run(ctx)
	var stopErr *charge.SafetyStopError
	switch {
	case err == nil:
		log.Info("Charge complete")
		return nil
	case errors.As(err, &stopErr):
		return fmt.Errorf("charging aborted: %v", err)
	case errors.Is(err, context.Canceled):
		return errors.New("charge interrupted before completion")
	default:
		return err
	}
}
