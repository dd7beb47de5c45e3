package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/thermolog/pkg/config"
)

// showSettingsDialog displays the configuration tabs. Values are saved to the
// config file and used on the next start; the port can also be changed live
// from the toolbar.
func showSettingsDialog(state *appState) {
	cfg := *state.mon.Config()

	tabs := container.NewAppTabs(
		createSerialTab(state, &cfg),
		createAcquisitionTab(state, &cfg),
		createLoggingTab(state, &cfg),
		createMockTab(state, &cfg),
	)

	content := container.NewBorder(
		nil,
		widget.NewLabel("Changes apply after restart."),
		nil,
		nil,
		tabs,
	)

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(520, 420))
	d.Show()
}

// save validates and writes cfg.
func save(state *appState, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	if err := cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState, cfg *config.Config) *container.TabItem {
	options, portMap := portOptions(cfg.Serial.Port)
	portSelect := widget.NewSelect(options, nil)
	for label, name := range portMap {
		if name == cfg.Serial.Port {
			portSelect.SetSelected(label)
			break
		}
	}

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(cfg.Serial.BaudRate))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			if name := portMap[portSelect.Selected]; name != "" {
				cfg.Serial.Port = name
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil {
				cfg.Serial.BaudRate = baud
			}
			save(state, cfg)
		},
	}

	return container.NewTabItem("Serial", form)
}

// createAcquisitionTab creates the filter, recording and display tab.
func createAcquisitionTab(state *appState, cfg *config.Config) *container.TabItem {
	tauEntry := widget.NewEntry()
	tauEntry.SetText(cfg.Filter.TimeConstant.String())

	flushEntry := widget.NewEntry()
	flushEntry.SetText(cfg.Recording.FlushInterval.String())

	windowEntry := widget.NewEntry()
	windowEntry.SetText(cfg.Display.Window.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Filter Time Constant", Widget: tauEntry},
			{Text: "Flush Interval", Widget: flushEntry},
			{Text: "History Window", Widget: windowEntry},
		},
		OnSubmit: func() {
			if tau, err := time.ParseDuration(tauEntry.Text); err == nil {
				cfg.Filter.TimeConstant = tau
			}
			if fi, err := time.ParseDuration(flushEntry.Text); err == nil {
				cfg.Recording.FlushInterval = fi
			}
			if w, err := time.ParseDuration(windowEntry.Text); err == nil {
				cfg.Display.Window = w
			}
			save(state, cfg)
		},
	}

	return container.NewTabItem("Acquisition", form)
}

// createLoggingTab creates the log and MQTT mirror tab.
func createLoggingTab(state *appState, cfg *config.Config) *container.TabItem {
	levelSelect := widget.NewSelect([]string{"debug", "info", "warn", "error"}, nil)
	levelSelect.SetSelected(cfg.Log.Level)

	fileEntry := widget.NewEntry()
	fileEntry.SetText(cfg.Log.File)

	mqttCheck := widget.NewCheck("", nil)
	mqttCheck.SetChecked(cfg.MQTT.Enabled)

	brokerEntry := widget.NewEntry()
	brokerEntry.SetText(cfg.MQTT.Broker)

	topicEntry := widget.NewEntry()
	topicEntry.SetText(cfg.MQTT.Topic)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Log Level", Widget: levelSelect},
			{Text: "Log File", Widget: fileEntry},
			{Text: "MQTT Mirror", Widget: mqttCheck},
			{Text: "MQTT Broker", Widget: brokerEntry},
			{Text: "MQTT Topic", Widget: topicEntry},
		},
		OnSubmit: func() {
			cfg.Log.Level = levelSelect.Selected
			cfg.Log.File = fileEntry.Text
			cfg.MQTT.Enabled = mqttCheck.Checked
			cfg.MQTT.Broker = brokerEntry.Text
			cfg.MQTT.Topic = topicEntry.Text
			save(state, cfg)
		},
	}

	return container.NewTabItem("Logging", form)
}

// createMockTab creates the simulated controller tab.
func createMockTab(state *appState, cfg *config.Config) *container.TabItem {
	sampleRateEntry := widget.NewEntry()
	sampleRateEntry.SetText(cfg.Mock.SampleRate.String())

	ambientEntry := widget.NewEntry()
	ambientEntry.SetText(fmt.Sprintf("%.1f", cfg.Mock.Ambient))

	setpointEntry := widget.NewEntry()
	setpointEntry.SetText(fmt.Sprintf("%.1f", cfg.Mock.Setpoint))

	gainEntry := widget.NewEntry()
	gainEntry.SetText(fmt.Sprintf("%.2f", cfg.Mock.Gain))

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(fmt.Sprintf("%.2f", cfg.Mock.Noise))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Sample Rate", Widget: sampleRateEntry},
			{Text: "Ambient (°C)", Widget: ambientEntry},
			{Text: "Setpoint (°C)", Widget: setpointEntry},
			{Text: "Gain (V/V)", Widget: gainEntry},
			{Text: "Noise (°C)", Widget: noiseEntry},
		},
		OnSubmit: func() {
			if sr, err := time.ParseDuration(sampleRateEntry.Text); err == nil {
				cfg.Mock.SampleRate = sr
			}
			if v, err := strconv.ParseFloat(ambientEntry.Text, 64); err == nil {
				cfg.Mock.Ambient = v
			}
			if v, err := strconv.ParseFloat(setpointEntry.Text, 64); err == nil {
				cfg.Mock.Setpoint = v
			}
			if v, err := strconv.ParseFloat(gainEntry.Text, 64); err == nil {
				cfg.Mock.Gain = v
			}
			if v, err := strconv.ParseFloat(noiseEntry.Text, 64); err == nil {
				cfg.Mock.Noise = v
			}
			save(state, cfg)
		},
	}

	return container.NewTabItem("Mock", form)
}
