package sample

import (
	"time"

	"github.com/itohio/thermolog/pkg/telemetry"
)

// Sample is a telemetry sample after low-pass filtering. It carries the
// arrival time of the raw sample it was derived from.
type Sample struct {
	Timestamp    time.Time
	TemperatureC float64
	SetpointC    float64
	ErrorV       float64
	OutputV      float64
}

// Value returns the value of channel c.
func (s Sample) Value(c telemetry.Channel) float64 {
	switch c {
	case telemetry.Temperature:
		return s.TemperatureC
	case telemetry.Setpoint:
		return s.SetpointC
	case telemetry.Error:
		return s.ErrorV
	case telemetry.Output:
		return s.OutputV
	default:
		return 0
	}
}
