package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/itohio/thermolog/pkg/connection"
	"github.com/itohio/thermolog/pkg/recording"
	"github.com/itohio/thermolog/pkg/telemetry"
)

// formatReading renders a read-out value with one decimal.
func formatReading(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

func channelTitle(c telemetry.Channel) string {
	switch c {
	case telemetry.Temperature:
		return "Temperature"
	case telemetry.Setpoint:
		return "Setpoint"
	case telemetry.Error:
		return "Error"
	case telemetry.Output:
		return "Output"
	default:
		return c.String()
	}
}

func channelUnit(c telemetry.Channel) string {
	switch c {
	case telemetry.Temperature, telemetry.Setpoint:
		return "°C"
	default:
		return "V"
	}
}

// formatStatus summarises both controllers for the status bar.
func formatStatus(conn connection.Snapshot, rec recording.Snapshot) string {
	var b strings.Builder

	switch conn.State {
	case connection.Connected:
		fmt.Fprintf(&b, "Connected to %s", conn.Port)
		if conn.Malformed > 0 {
			fmt.Fprintf(&b, " (%d malformed lines)", conn.Malformed)
		}
	default:
		b.WriteString("Disconnected")
		if conn.LastError != nil {
			fmt.Fprintf(&b, ": %v", conn.LastError)
		}
	}

	b.WriteString(" | ")
	switch rec.State {
	case recording.Recording:
		fmt.Fprintf(&b, "Recording %s (%d rows)", filepath.Base(rec.Path), rec.SamplesWritten)
	case recording.FileChosen:
		fmt.Fprintf(&b, "File %s", filepath.Base(rec.Path))
	default:
		b.WriteString("No file")
	}
	return b.String()
}

func formatHistory(points int, dropped uint64) string {
	if dropped == 0 {
		return fmt.Sprintf("%d pts", points)
	}
	return fmt.Sprintf("%d pts, %d skipped", points, dropped)
}

// defaultFileName suggests a name for the file entry.
func defaultFileName(path string) string {
	if path == "" {
		return "dados.csv"
	}
	return filepath.Base(path)
}

// recordingDir is the folder offered for a new recording file.
func recordingDir(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}

// recordingPath joins the picked folder and file name. A name without an
// extension gets ".csv".
func recordingPath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "" || name == "." || name == "..":
		return "", errors.New("file name is empty")
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("file name %q must not contain a path separator", name)
	}
	if filepath.Ext(name) == "" {
		name += ".csv"
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name), nil
}
