package sample

import (
	"math"
	"time"

	"github.com/itohio/thermolog/pkg/telemetry"
)

// DefaultTimeConstant is the low-pass time constant used by the controller display.
const DefaultTimeConstant = 5 * time.Second

// LowPass is a continuous-time first-order low-pass filter:
//
//	y = y_prev + (x - y_prev) * (1 - exp(-dt/tau))
//
// The first update initialises the output to the input. Updates with dt <= 0
// leave the output unchanged. LowPass is not safe for concurrent use.
type LowPass struct {
	tau         float64 // seconds
	output      float64
	lastUpdate  time.Time
	initialized bool
}

// NewLowPass creates an uninitialised filter. A non-positive tau falls back to
// DefaultTimeConstant.
func NewLowPass(tau time.Duration) *LowPass {
	if tau <= 0 {
		tau = DefaultTimeConstant
	}
	return &LowPass{tau: tau.Seconds()}
}

// Update feeds an input observed at time at and returns the filtered output.
func (f *LowPass) Update(input float64, at time.Time) float64 {
	if !f.initialized {
		f.output = input
		f.lastUpdate = at
		f.initialized = true
		return f.output
	}

	dt := at.Sub(f.lastUpdate).Seconds()
	if dt <= 0 {
		// Reordered or duplicate timestamp: hold the output, never move time backwards.
		if at.After(f.lastUpdate) {
			f.lastUpdate = at
		}
		return f.output
	}

	f.output += (input - f.output) * (1 - math.Exp(-dt/f.tau))
	f.lastUpdate = at
	return f.output
}

// Output returns the last filtered value and whether the filter has been initialised.
func (f *LowPass) Output() (float64, bool) {
	return f.output, f.initialized
}

// Reset returns the filter to its uninitialised state.
func (f *LowPass) Reset() {
	f.output = 0
	f.lastUpdate = time.Time{}
	f.initialized = false
}

// FilterBank holds one LowPass per telemetry channel. Only one read loop uses
// it at a time; Reset it before the next connection.
type FilterBank struct {
	filters [telemetry.NumChannels]LowPass
}

// NewFilterBank creates a bank of uninitialised filters sharing time constant tau.
func NewFilterBank(tau time.Duration) *FilterBank {
	b := &FilterBank{}
	for i := range b.filters {
		b.filters[i] = *NewLowPass(tau)
	}
	return b
}

// Apply filters every channel of raw and returns the filtered sample.
func (b *FilterBank) Apply(raw telemetry.RawSample) Sample {
	at := raw.ArrivalTime
	return Sample{
		Timestamp:    at,
		TemperatureC: b.filters[telemetry.Temperature].Update(raw.TemperatureC, at),
		SetpointC:    b.filters[telemetry.Setpoint].Update(raw.SetpointC, at),
		ErrorV:       b.filters[telemetry.Error].Update(raw.ErrorV, at),
		OutputV:      b.filters[telemetry.Output].Update(raw.OutputV, at),
	}
}

// Reset returns every channel to its uninitialised state.
func (b *FilterBank) Reset() {
	for i := range b.filters {
		b.filters[i].Reset()
	}
}
