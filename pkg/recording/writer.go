package recording

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/itohio/thermolog/pkg/sample"
	"github.com/spf13/afero"
)

// Header is the first row of every recording file.
var Header = []string{"time", "temperature_c", "setpoint_c", "error_v", "output_v"}

// Row is one recorded sample. Time is seconds since the recording started.
type Row struct {
	Time         float64 `csv:"time"`
	TemperatureC float64 `csv:"temperature_c"`
	SetpointC    float64 `csv:"setpoint_c"`
	ErrorV       float64 `csv:"error_v"`
	OutputV      float64 `csv:"output_v"`
}

// rowWriter encodes samples as CSV rows relative to start. Rows are buffered
// until Flush.
type rowWriter struct {
	file  afero.File
	buf   *bufio.Writer
	csv   *gocsv.SafeCSVWriter
	start time.Time
	last  float64
	rows  []Row
}

func newRowWriter(file afero.File, start time.Time) (*rowWriter, error) {
	buf := bufio.NewWriter(file)
	w := &rowWriter{
		file:  file,
		buf:   buf,
		csv:   gocsv.NewSafeCSVWriter(csv.NewWriter(buf)),
		start: start,
	}

	if err := w.csv.Write(Header); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// elapsed returns seconds since start rounded to milliseconds. The value
// never goes below zero or below the previous row.
func (w *rowWriter) elapsed(at time.Time) float64 {
	t := math.Round(at.Sub(w.start).Seconds()*1000) / 1000
	if t < w.last {
		t = w.last
	}
	if t < 0 {
		t = 0
	}
	w.last = t
	return t
}

// Write encodes samples, oldest first.
func (w *rowWriter) Write(samples []sample.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	w.rows = w.rows[:0]
	for _, s := range samples {
		w.rows = append(w.rows, Row{
			Time:         w.elapsed(s.Timestamp),
			TemperatureC: s.TemperatureC,
			SetpointC:    s.SetpointC,
			ErrorV:       s.ErrorV,
			OutputV:      s.OutputV,
		})
	}
	return gocsv.MarshalCSVWithoutHeaders(&w.rows, w.csv)
}

// Flush pushes buffered rows to the file.
func (w *rowWriter) Flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes, syncs and closes the file.
func (w *rowWriter) Close() error {
	err := w.Flush()
	if err == nil {
		err = w.file.Sync()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("closing %s: %w", w.file.Name(), err)
	}
	return nil
}
