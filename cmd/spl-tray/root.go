package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/spl-tray/internal/app"
	"github.com/petems/spl-tray/internal/audio"
	"github.com/petems/spl-tray/internal/config"
	"github.com/petems/spl-tray/internal/logging"
	"github.com/petems/spl-tray/internal/meter"
	"github.com/petems/spl-tray/internal/permissions"
	"github.com/petems/spl-tray/internal/server"
	"github.com/petems/spl-tray/internal/spl"
	"github.com/petems/spl-tray/internal/tray"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	configFile  string
	logLevel    string
	device      string
	sampleRate  int
	window      int
	readTimeout time.Duration
	listen      string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "spl-tray",
		Short: "Sound pressure level meter in the system tray",
		Long: `spl-tray samples the microphone, finds the dominant tone of every
window with a Fourier transform and shows the resulting sound pressure
level in decibels in the system tray.`,
		Version:       Version + " (" + Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(cmd, opts)
		},
	}

	addGlobalFlags(cmd.PersistentFlags(), opts)

	cmd.AddCommand(newMeasureCmd(opts))
	cmd.AddCommand(newDevicesCmd(opts))
	return cmd
}

func addGlobalFlags(fs *pflag.FlagSet, opts *options) {
	fs.StringVar(&opts.configFile, "config", "", "config file (default is the platform config dir)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	fs.StringVar(&opts.device, "device", "", "input device name (default input device when empty)")
	fs.IntVar(&opts.sampleRate, "rate", 0, "sample rate in Hz")
	fs.IntVar(&opts.window, "window", 0, "samples per measurement window, a power of two")
	fs.DurationVar(&opts.readTimeout, "read-timeout", 0, "fail a run when one window takes longer than this (0 waits forever)")
	fs.StringVar(&opts.listen, "listen", "", "stream measurements over WebSocket on this host:port")
}

// loadConfig reads the config file and applies flags that were set explicitly
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, zerolog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.LoadFrom(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("device") {
		cfg.Audio.DeviceID = opts.device
	}
	if flags.Changed("rate") {
		cfg.Recording.SampleRate = opts.sampleRate
	}
	if flags.Changed("window") {
		cfg.Recording.WindowLength = opts.window
	}
	if flags.Changed("read-timeout") {
		cfg.Meter.ReadTimeoutMs = int(opts.readTimeout / time.Millisecond)
	}
	if flags.Changed("listen") {
		cfg.Server.Listen = opts.listen
	}

	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}

	return cfg, logging.NewWithLevel(cfg.LogLevel), nil
}

// newMeter wires the capture loop from the configuration
func newMeter(cfg *config.Config, src audio.Source, log zerolog.Logger) *meter.Meter {
	calc := spl.NewCalculator(cfg.Recording.SampleRate, spl.FrequencyFormula(cfg.Meter.FrequencyFormula))
	calc.Impedance = cfg.Meter.Impedance
	calc.ReferencePressure = cfg.Meter.ReferencePressure

	return meter.New(meter.Config{
		Source:      src,
		Recording:   cfg.Recording,
		Calculator:  calc,
		Results:     meter.NewResults(cfg.Meter.ResultBuffer),
		ReadTimeout: cfg.Meter.ReadTimeout(),
		Logger:      log.With().Str("component", "meter").Logger(),
	})
}

func runTray(cmd *cobra.Command, opts *options) error {
	cfg, log, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Initialize audio capture
	source, err := audio.New(cfg.Audio, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer source.Close()

	var sinks []app.Sink
	if cfg.Server.Listen != "" {
		hub := server.NewHub(log.With().Str("component", "server").Logger())
		sinks = append(sinks, hub)
		go func() {
			if err := hub.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
				log.Error().Err(err).Msg("WebSocket server stopped")
			}
		}()
	}

	application := app.New(app.Config{
		Meter:  newMeter(cfg, source, log),
		Source: source,
		Config: cfg,
		Logger: log,
		Sinks:  sinks,
	})

	// Create tray UI and register it as the app's status display
	trayUI := tray.New(application, cfg, log, Version, Commit)
	application.SetStatusUpdater(trayUI)

	go func() {
		if err := application.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Controller stopped")
		}
	}()

	if cfg.StartOnLaunch {
		go func() {
			if err := application.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to start measuring")
			}
		}()
	}

	log.Info().Str("version", Version).Msg("SPL Tray starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		shutdownCtx, done := context.WithTimeout(ctx, 5*time.Second)
		defer done()
		if err := application.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
		os.Exit(0)
	}()

	// Start tray UI - MUST run on main thread
	return trayUI.Run(ctx)
}
