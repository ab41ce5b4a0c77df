package tray

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/spl-tray/internal/app"
	"github.com/petems/spl-tray/internal/config"
	"github.com/petems/spl-tray/internal/logging"
	"github.com/petems/spl-tray/internal/meter"
	"github.com/rs/zerolog"
)

const commandTimeout = 10 * time.Second

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	ctx   context.Context
	ready atomic.Bool

	mu     sync.Mutex
	status string

	// Menu items
	mStartStop *systray.MenuItem
	mCopy      *systray.MenuItem
	mDevices   *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetMeasuring() {
	u.updateStatus("measuring")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// ShowMeasurement puts the latest reading in the menu bar
func (u *UI) ShowMeasurement(m meter.Measurement) {
	if !u.ready.Load() {
		return
	}
	systray.SetTitle(titleFor(u.currentStatus(), &m))
	systray.SetTooltip(m.Reading.String())
}

func New(application *app.App, cfg *config.Config, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
		status:  "idle",
		ctx:     context.Background(),
	}
}

// Run blocks until Quit. It must be called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	u.ctx = ctx
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.ready.Store(true)
	u.updateStatus(u.currentStatus())
	systray.SetTooltip("Sound pressure level meter")

	// Build menu
	u.mStartStop = systray.AddMenuItem(startStopTitle(u.app.IsMeasuring()), "Start or stop measuring")
	u.mCopy = systray.AddMenuItem("Copy Reading", "Copy the latest reading to the clipboard")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About SPL Tray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleMeasuring()
		case <-u.mCopy.ClickedCh:
			u.copyReading()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) toggleMeasuring() {
	ctx, cancel := context.WithTimeout(u.ctx, commandTimeout)
	defer cancel()

	if err := u.app.Toggle(ctx); err != nil {
		u.log.Error().Err(err).Msg("Failed to toggle measuring")
	}
}

func (u *UI) copyReading() {
	m, ok := u.app.Latest()
	if !ok {
		u.log.Info().Msg("No reading to copy yet")
		return
	}
	if err := clipboard.WriteAll(m.Reading.String()); err != nil {
		u.log.Error().Err(err).Msg("Failed to write clipboard")
		return
	}
	u.log.Info().Str("reading", m.Reading.String()).Msg("Copied reading")
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	var mu sync.Mutex
	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to change audio device")
					continue
				}

				mu.Lock()
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				mu.Unlock()

				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) openLogs() {
	fmt.Printf("Logs: %s\n", logging.Path())
}

func (u *UI) showAbout() {
	fmt.Printf("SPL Tray %s (%s)\nSound pressure level meter\n", u.version, u.commit)
}

func (u *UI) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := u.app.Shutdown(ctx); err != nil {
		u.log.Error().Err(err).Msg("Shutdown error")
	}
}

func (u *UI) currentStatus() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// updateStatus records the status and refreshes title and start/stop label
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()

	if !u.ready.Load() {
		return
	}

	var latest *meter.Measurement
	if status == "measuring" {
		if m, ok := u.app.Latest(); ok {
			latest = &m
		}
	}
	systray.SetTitle(titleFor(status, latest))
	if u.mStartStop != nil {
		u.mStartStop.SetTitle(startStopTitle(status == "measuring"))
	}
}

// titleFor renders the menu bar text: the status emoji plus the reading while measuring
func titleFor(status string, m *meter.Measurement) string {
	emoji := emojiForStatus(status)
	if status != "measuring" || m == nil {
		return fmt.Sprintf("🔊 %s", emoji)
	}
	return fmt.Sprintf("🔊 %s %.3f dB", emoji, m.Decibels)
}

func startStopTitle(measuring bool) string {
	if measuring {
		return "Stop Measuring"
	}
	return "Start Measuring"
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "measuring":
		return "🔴" // Red - capturing
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
