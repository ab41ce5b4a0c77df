package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petems/spl-tray/internal/audio"
	"github.com/petems/spl-tray/internal/config"
	"github.com/petems/spl-tray/internal/meter"
	"github.com/rs/zerolog"
)

// ErrBusy is returned for changes that need the meter stopped
var ErrBusy = errors.New("cannot change while measuring")

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetMeasuring()
	SetError()
	ShowMeasurement(m meter.Measurement)
}

// Sink receives every measurement the app consumes. Publish must not block.
type Sink interface {
	Publish(m meter.Measurement)
}

// DeviceSelector is implemented by sources that can switch input device
type DeviceSelector interface {
	SetDevice(id string)
}

type Config struct {
	Meter         *meter.Meter
	Source        audio.Source // optional, used for device listing and selection
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	Sinks         []Sink
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

func (k commandKind) String() string {
	if k == cmdStart {
		return "start"
	}
	return "stop"
}

type command struct {
	kind  commandKind
	reply chan error
}

// App is the controller. Run owns the meter; Start and Stop are messages to it.
type App struct {
	meter  *meter.Meter
	source audio.Source
	cfg    *config.Config
	log    zerolog.Logger
	status StatusUpdater
	sinks  []Sink

	cmds      chan command
	measuring atomic.Bool

	mu        sync.Mutex
	latest    meter.Measurement
	hasLatest bool
}

func New(cfg Config) *App {
	return &App{
		meter:  cfg.Meter,
		source: cfg.Source,
		cfg:    cfg.Config,
		log:    cfg.Logger,
		status: cfg.StatusUpdater,
		sinks:  cfg.Sinks,
		cmds:   make(chan command),
	}
}

// SetStatusUpdater wires the presentation layer after construction
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.status = s
}

// Run processes commands and consumes measurements until ctx is done. It
// must be running for Start and Stop to be answered.
func (a *App) Run(ctx context.Context) error {
	var (
		running  bool
		stopping []chan error
		done     <-chan struct{}
	)
	results := a.meter.Results().C()

	for {
		// A nil channel blocks, so Done is only watched while a run is active
		var runDone <-chan struct{}
		if running {
			runDone = done
		}

		select {
		case <-ctx.Done():
			if running {
				a.meter.Stop()
			}
			return ctx.Err()

		case cmd := <-a.cmds:
			a.log.Debug().Stringer("command", cmd.kind).Bool("running", running).Msg("Command")

			switch cmd.kind {
			case cmdStart:
				if running {
					if len(stopping) > 0 {
						cmd.reply <- fmt.Errorf("stop in progress: %w", meter.ErrAlreadyRunning)
					} else {
						cmd.reply <- nil
					}
					continue
				}
				if err := a.meter.Start(); err != nil {
					a.log.Error().Err(err).Msg("Failed to start measuring")
					a.setStatus(StatusUpdater.SetError)
					cmd.reply <- err
					continue
				}
				running = true
				done = a.meter.Done()
				a.measuring.Store(true)
				a.setStatus(StatusUpdater.SetMeasuring)
				cmd.reply <- nil

			case cmdStop:
				if !running {
					cmd.reply <- nil
					continue
				}
				// Replied once the in-flight cycle has finished
				a.meter.Stop()
				stopping = append(stopping, cmd.reply)
			}

		case m := <-results:
			a.deliver(m)

		case <-runDone:
			running = false
			a.measuring.Store(false)
			a.drain(results)

			if err := a.meter.Err(); err != nil {
				a.log.Error().Err(err).Msg("Measuring stopped")
				a.setStatus(StatusUpdater.SetError)
			} else {
				a.setStatus(StatusUpdater.SetIdle)
			}

			for _, reply := range stopping {
				reply <- nil
			}
			stopping = nil
		}
	}
}

func (a *App) drain(results <-chan meter.Measurement) {
	for {
		select {
		case m := <-results:
			a.deliver(m)
		default:
			return
		}
	}
}

func (a *App) deliver(m meter.Measurement) {
	a.mu.Lock()
	a.latest = m
	a.hasLatest = true
	a.mu.Unlock()

	if a.status != nil {
		a.status.ShowMeasurement(m)
	}
	for _, s := range a.sinks {
		s.Publish(m)
	}
}

func (a *App) setStatus(fn func(StatusUpdater)) {
	if a.status != nil {
		fn(a.status)
	}
}

func (a *App) send(ctx context.Context, kind commandKind) error {
	reply := make(chan error, 1)
	select {
	case a.cmds <- command{kind: kind, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins measuring. Starting while measuring is a no-op.
func (a *App) Start(ctx context.Context) error {
	return a.send(ctx, cmdStart)
}

// Stop ends measuring and returns once the meter is stopped. Stopping while
// idle is a no-op.
func (a *App) Stop(ctx context.Context) error {
	return a.send(ctx, cmdStop)
}

// Toggle starts when idle and stops when measuring
func (a *App) Toggle(ctx context.Context) error {
	if a.IsMeasuring() {
		return a.Stop(ctx)
	}
	return a.Start(ctx)
}

func (a *App) IsMeasuring() bool {
	return a.measuring.Load()
}

// Latest returns the most recent measurement, if any
func (a *App) Latest() (meter.Measurement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.hasLatest
}

func (a *App) Shutdown(ctx context.Context) error {
	if a.IsMeasuring() {
		return a.Stop(ctx)
	}
	return nil
}

// Tray actions

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	lister, ok := a.source.(audio.DeviceLister)
	if !ok {
		return nil, nil
	}
	return lister.ListDevices()
}

func (a *App) SetDevice(id string) error {
	if a.IsMeasuring() {
		return ErrBusy
	}

	sel, ok := a.source.(DeviceSelector)
	if !ok {
		return fmt.Errorf("audio source does not support device selection")
	}
	sel.SetDevice(id)

	a.cfg.Audio.DeviceID = id
	return a.cfg.Save()
}
