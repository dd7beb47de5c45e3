package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrMalformedLine is returned for any line that does not match the wire grammar.
var ErrMalformedLine = errors.New("malformed line")

// RawSample is one accepted telemetry line.
type RawSample struct {
	ArrivalTime  time.Time
	TemperatureC float64 // Process temperature (°C)
	SetpointC    float64 // Controller setpoint (°C)
	ErrorV       float64 // Controller error (V)
	OutputV      float64 // Controller output (V)
}

// Channel identifies one of the four telemetry quantities.
type Channel int

const (
	Temperature Channel = iota
	Setpoint
	Error
	Output
	NumChannels
)

type field struct {
	label     string
	precision int
}

// Wire labels in their fixed order.
var fields = [NumChannels]field{
	Temperature: {label: "T(°C)=", precision: 1},
	Setpoint:    {label: "SP(°C)=", precision: 1},
	Error:       {label: "Erro(V)=", precision: 2},
	Output:      {label: "Saida(V)=", precision: 2},
}

func (c Channel) String() string {
	switch c {
	case Temperature:
		return "temperature"
	case Setpoint:
		return "setpoint"
	case Error:
		return "error"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Value returns the value of channel c.
func (s RawSample) Value(c Channel) float64 {
	switch c {
	case Temperature:
		return s.TemperatureC
	case Setpoint:
		return s.SetpointC
	case Error:
		return s.ErrorV
	case Output:
		return s.OutputV
	default:
		return math.NaN()
	}
}

// ParseLine parses a framed line into a RawSample stamped with arrival.
// Format: T(°C)=<d.d> SP(°C)=<d.d> Erro(V)=<d.dd> Saida(V)=<d.dd>
// Example: T(°C)=48.9 SP(°C)=50.3 Erro(V)=0.01 Saida(V)=2.93
func ParseLine(line string, arrival time.Time) (RawSample, error) {
	if !utf8.ValidString(line) {
		decoded, err := charmap.ISO8859_1.NewDecoder().String(line)
		if err != nil {
			return RawSample{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		line = decoded
	}

	parts := strings.Fields(line)
	if len(parts) != int(NumChannels) {
		return RawSample{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedLine, NumChannels, len(parts))
	}

	var values [NumChannels]float64
	for i, part := range parts {
		f := fields[i]
		num, ok := strings.CutPrefix(part, f.label)
		if !ok {
			return RawSample{}, fmt.Errorf("%w: field %d: missing label %q", ErrMalformedLine, i+1, f.label)
		}
		v, err := parseFixed(num, f.precision)
		if err != nil {
			return RawSample{}, fmt.Errorf("%w: %s: %v", ErrMalformedLine, Channel(i), err)
		}
		values[i] = v
	}

	return RawSample{
		ArrivalTime:  arrival,
		TemperatureC: values[Temperature],
		SetpointC:    values[Setpoint],
		ErrorV:       values[Error],
		OutputV:      values[Output],
	}, nil
}

// parseFixed parses an optionally signed decimal with exactly precision
// fractional digits.
func parseFixed(s string, precision int) (float64, error) {
	digits := strings.TrimPrefix(s, "-")
	intPart, frac, ok := strings.Cut(digits, ".")
	if !ok {
		return 0, fmt.Errorf("invalid number %q: missing decimal point", s)
	}
	if intPart == "" || !allDigits(intPart) || !allDigits(frac) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if len(frac) != precision {
		return 0, fmt.Errorf("invalid number %q: expected %d decimals", s, precision)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatLine renders a sample in the wire format, terminator included.
func FormatLine(s RawSample) string {
	var b strings.Builder
	for c := Channel(0); c < NumChannels; c++ {
		if c > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(fields[c].label)
		b.WriteString(strconv.FormatFloat(s.Value(c), 'f', fields[c].precision, 64))
	}
	b.WriteString("\r\n")
	return b.String()
}
