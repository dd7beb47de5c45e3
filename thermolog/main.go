package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/itohio/thermolog/pkg/config"
	"github.com/itohio/thermolog/pkg/display"
	"github.com/itohio/thermolog/pkg/logging"
	"github.com/itohio/thermolog/pkg/monitor"
	"github.com/itohio/thermolog/pkg/publish"
	"github.com/itohio/thermolog/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM4 or /dev/ttyACM0)")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Use simulated controller instead of serial port")
		headlessFlag = flag.Bool("headless", false, "Run without a window; connect immediately")
		outputFlag   = flag.String("o", "", "Recording file override")
		recordFlag   = flag.Bool("record", false, "Start recording once connected (headless only)")
		listFlag     = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *outputFlag != "" {
		cfg.Recording.Path = *outputFlag
	}

	if err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
		os.Exit(1)
	}

	opts := monitor.Options{Config: cfg}
	if *mockFlag {
		opts.Factory = telemetry.MockFactory(&cfg.Mock, nil)
		log.Info().Msg("using simulated controller")
	}
	if cfg.MQTT.Enabled {
		client, err := publish.NewPahoClient(cfg.MQTT)
		if err != nil {
			// The mirror is optional; acquisition works without it.
			log.Error().Err(err).Msg("mqtt mirror disabled")
		} else {
			opts.MQTT = client
		}
	}

	mon := monitor.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headlessFlag {
		if err := runHeadless(ctx, mon, *recordFlag); err != nil {
			log.Error().Err(err).Msg("exiting")
			os.Exit(1)
		}
		return
	}

	runWindow(ctx, stop, mon, *configFlag)
}

func listPorts() error {
	ports, err := telemetry.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\t%s\t(USB %s:%s)\n", p.Name, p.Description, p.VID, p.PID)
		} else {
			fmt.Printf("%s\t%s\n", p.Name, p.Description)
		}
	}
	return nil
}

// runHeadless connects to the configured port and logs every refresh until
// ctx is cancelled.
func runHeadless(ctx context.Context, mon *monitor.Monitor, record bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	mon.Display().OnUpdate(func(f display.Frame) {
		log.Info().
			Str("temperature", formatReading(f.Latest.TemperatureC)).
			Str("setpoint", formatReading(f.Latest.SetpointC)).
			Str("error", formatReading(f.Latest.ErrorV)).
			Str("output", formatReading(f.Latest.OutputV)).
			Msg("sample")
	})

	err := mon.Connect(ctx, mon.Config().Serial.Port)
	if err == nil && record {
		err = mon.StartRecording(ctx)
	}
	if err != nil {
		cancel()
		<-done
		return err
	}

	return <-done
}

func runWindow(ctx context.Context, stop context.CancelFunc, mon *monitor.Monitor, configPath string) {
	application := app.NewWithID("com.itohio.thermolog")

	window := application.NewWindow("Temperature Controller Monitor")
	window.Resize(fyne.NewSize(640, 320))
	window.CenterOnScreen()

	state := newAppState(mon, window, configPath)
	window.SetContent(state.build())

	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	// Quit the window when a signal arrives.
	go func() {
		<-ctx.Done()
		fyne.Do(application.Quit)
	}()

	window.ShowAndRun()

	stop()
	if err := <-done; err != nil {
		log.Error().Err(err).Msg("monitor stopped with error")
	}
}
