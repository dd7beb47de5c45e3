package main

import (
	"context"
	"errors"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/thermolog/pkg/connection"
	"github.com/itohio/thermolog/pkg/display"
	"github.com/itohio/thermolog/pkg/monitor"
	"github.com/itohio/thermolog/pkg/recording"
	"github.com/itohio/thermolog/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// appState holds the window widgets. Widgets are only touched on the fyne
// main goroutine; controller callbacks hop over with fyne.Do.
type appState struct {
	mon        *monitor.Monitor
	window     fyne.Window
	configPath string

	portSelect *widget.Select
	portMap    map[string]string // Display name to port name
	connectBtn *widget.Button
	fileBtn    *widget.Button
	recordBtn  *widget.Button

	readings [telemetry.NumChannels]*widget.Label
	status   *widget.Label
	history  *widget.Label

	recording bool // last recording state seen by the listener
}

func newAppState(mon *monitor.Monitor, window fyne.Window, configPath string) *appState {
	return &appState{
		mon:        mon,
		window:     window,
		configPath: configPath,
		portMap:    make(map[string]string),
	}
}

// build creates the window content and registers the monitor callbacks.
func (s *appState) build() fyne.CanvasObject {
	s.portSelect = widget.NewSelect(nil, nil)
	s.refreshPorts()

	refreshBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), s.refreshPorts)
	s.connectBtn = widget.NewButtonWithIcon("Connect", theme.LoginIcon(), s.handleConnect)
	s.fileBtn = widget.NewButtonWithIcon("File", theme.DocumentSaveIcon(), s.handleChooseFile)
	s.recordBtn = widget.NewButtonWithIcon("Record", theme.MediaRecordIcon(), s.handleRecord)
	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(s)
	})
	clearBtn := widget.NewButtonWithIcon("", theme.DeleteIcon(), func() {
		s.mon.Display().Clear()
		s.history.SetText(formatHistory(0, s.mon.Display().Dropped()))
	})

	toolbar := container.NewBorder(
		nil,
		nil,
		container.NewHBox(s.connectBtn, s.fileBtn, s.recordBtn),
		container.NewHBox(clearBtn, settingsBtn),
		container.NewBorder(nil, nil, nil, refreshBtn, s.portSelect),
	)

	cards := make([]fyne.CanvasObject, 0, telemetry.NumChannels)
	for c := telemetry.Channel(0); c < telemetry.NumChannels; c++ {
		label := widget.NewLabelWithStyle("--", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
		label.SizeName = theme.SizeNameHeadingText
		s.readings[c] = label
		cards = append(cards, widget.NewCard(channelTitle(c), "", label))
	}

	s.status = widget.NewLabel("")
	s.history = widget.NewLabel("")

	s.mon.Display().OnUpdate(func(f display.Frame) {
		fyne.Do(func() { s.showFrame(f) })
	})
	s.mon.OnConnectionChange(func(connection.Snapshot) {
		fyne.Do(s.updateControls)
	})
	s.mon.OnRecordingChange(func(snap recording.Snapshot) {
		fyne.Do(func() {
			s.updateControls()
			// Start failures are reported by the command itself.
			ended := s.recording && snap.State != recording.Recording
			s.recording = snap.State == recording.Recording
			if ended && snap.LastError != nil {
				dialog.ShowError(snap.LastError, s.window)
			}
		})
	})
	s.updateControls()

	return container.NewBorder(
		toolbar,
		container.NewBorder(nil, nil, nil, s.history, s.status),
		nil,
		nil,
		container.NewGridWithColumns(2, cards...),
	)
}

func (s *appState) refreshPorts() {
	current := s.mon.Config().Serial.Port
	options, portMap := portOptions(current)
	s.portMap = portMap
	s.portSelect.SetOptions(options)
	for label, name := range portMap {
		if name == current {
			s.portSelect.SetSelected(label)
			break
		}
	}
}

// portOptions lists the host ports plus current, keyed by display name.
func portOptions(current string) ([]string, map[string]string) {
	var options []string
	portMap := make(map[string]string)

	ports, err := telemetry.Ports()
	if err != nil {
		log.Warn().Err(err).Msg("cannot list serial ports")
	}
	for _, p := range ports {
		name := p.Name
		if p.Description != "" && p.Description != p.Name {
			name = fmt.Sprintf("%s (%s)", p.Name, p.Description)
		}
		options = append(options, name)
		portMap[name] = p.Name
	}

	found := false
	for _, name := range portMap {
		if name == current {
			found = true
			break
		}
	}
	if !found && current != "" {
		options = append(options, current)
		portMap[current] = current
	}
	return options, portMap
}

func (s *appState) selectedPort() string {
	if name := s.portMap[s.portSelect.Selected]; name != "" {
		return name
	}
	return s.portSelect.Selected
}

// Commands block until the owning controller answers, so they run off the
// main goroutine.
func (s *appState) run(cmd func(ctx context.Context) error) {
	go func() {
		if err := cmd(context.Background()); err != nil {
			fyne.Do(func() { dialog.ShowError(err, s.window) })
		}
	}()
}

func (s *appState) handleConnect() {
	if s.mon.Connection().State == connection.Connected {
		s.run(s.mon.Disconnect)
		return
	}

	port := s.selectedPort()
	s.run(func(ctx context.Context) error {
		return s.mon.Connect(ctx, port)
	})
}

// handleChooseFile asks for a folder and a file name. Only the path is
// taken here; the recorder creates the file when recording starts.
func (s *appState) handleChooseFile() {
	current := s.mon.Recording().Path
	dir := recordingDir(current)

	folder := widget.NewLabel(dir)
	name := widget.NewEntry()
	name.SetText(defaultFileName(current))

	browse := widget.NewButtonWithIcon("", theme.FolderOpenIcon(), func() {
		d := dialog.NewFolderOpen(func(uri fyne.ListableURI, err error) {
			if err != nil {
				dialog.ShowError(err, s.window)
				return
			}
			if uri == nil {
				return
			}
			dir = uri.Path()
			folder.SetText(dir)
		}, s.window)
		d.Show()
	})

	items := []*widget.FormItem{
		widget.NewFormItem("Folder", container.NewBorder(nil, nil, nil, browse, folder)),
		widget.NewFormItem("File", name),
	}
	dialog.ShowForm("Recording file", "Choose", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		path, err := recordingPath(dir, name.Text)
		if err != nil {
			dialog.ShowError(err, s.window)
			return
		}
		s.run(func(ctx context.Context) error {
			return s.mon.ChooseFile(ctx, path)
		})
	}, s.window)
}

func (s *appState) handleRecord() {
	if s.mon.Recording().State == recording.Recording {
		s.run(s.mon.StopRecording)
		return
	}
	s.run(func(ctx context.Context) error {
		err := s.mon.StartRecording(ctx)
		if errors.Is(err, recording.ErrNotConnected) {
			return fmt.Errorf("connect to the controller before recording: %w", err)
		}
		return err
	})
}

// updateControls reflects the controller snapshots in the toolbar.
func (s *appState) updateControls() {
	conn := s.mon.Connection()
	rec := s.mon.Recording()

	if conn.State == connection.Connected {
		s.connectBtn.SetText("Disconnect")
		s.connectBtn.SetIcon(theme.LogoutIcon())
		s.portSelect.Disable()
	} else {
		s.connectBtn.SetText("Connect")
		s.connectBtn.SetIcon(theme.LoginIcon())
		s.portSelect.Enable()
	}

	switch rec.State {
	case recording.Recording:
		s.recordBtn.SetText("Stop")
		s.recordBtn.SetIcon(theme.MediaStopIcon())
		s.recordBtn.Enable()
		s.fileBtn.Disable()
	case recording.FileChosen:
		s.recordBtn.SetText("Record")
		s.recordBtn.SetIcon(theme.MediaRecordIcon())
		if conn.State == connection.Connected {
			s.recordBtn.Enable()
		} else {
			s.recordBtn.Disable()
		}
		s.fileBtn.Enable()
	default:
		s.recordBtn.Disable()
		s.fileBtn.Enable()
	}

	s.status.SetText(formatStatus(conn, rec))
}

func (s *appState) showFrame(f display.Frame) {
	for c := telemetry.Channel(0); c < telemetry.NumChannels; c++ {
		s.readings[c].SetText(formatReading(f.Latest.Value(c)) + " " + channelUnit(c))
	}
	s.history.SetText(formatHistory(len(f.History), f.Dropped))
	s.status.SetText(formatStatus(s.mon.Connection(), s.mon.Recording()))
}
