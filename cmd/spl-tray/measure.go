package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/petems/spl-tray/internal/app"
	"github.com/petems/spl-tray/internal/audio"
	"github.com/petems/spl-tray/internal/meter"
	"github.com/petems/spl-tray/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMeasureCmd(opts *options) *cobra.Command {
	var (
		wavPath string
		count   uint64
	)

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure without the tray and print every reading",
		Example: `  spl-tray measure
  spl-tray measure --count 10
  spl-tray measure --wav tone.wav --window 1024
  spl-tray measure --listen 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			var source audio.Source
			if wavPath != "" {
				source = audio.NewWAVSource(wavPath)
			} else {
				pa, err := audio.New(cfg.Audio, log)
				if err != nil {
					return err
				}
				defer pa.Close()
				source = pa
			}

			m := newMeter(cfg, source, log)
			out := newPrinter(cmd.OutOrStdout(), count)
			sinks := []app.Sink{out}

			var hub *server.Hub
			if cfg.Server.Listen != "" {
				hub = server.NewHub(log.With().Str("component", "server").Logger())
				sinks = append(sinks, hub)
			}

			application := app.New(app.Config{
				Meter:  m,
				Source: source,
				Config: cfg,
				Logger: log,
				Sinks:  sinks,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				if err := application.Run(gctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})

			if hub != nil {
				g.Go(func() error {
					return hub.ListenAndServe(gctx, cfg.Server.Listen)
				})
			}

			g.Go(func() error {
				defer cancel()

				if err := application.Start(gctx); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				done := m.Done()

				var runErr error
				select {
				case <-gctx.Done():
					// Run has already asked the meter to stop
					m.Stop()
					<-done
					return nil
				case <-out.Reached():
				case <-done:
					runErr = m.Err()
				}

				// Stop is answered after pending measurements reached the sinks
				stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelStop()
				if err := application.Stop(stopCtx); err != nil && runErr == nil {
					return err
				}

				if endOfInput(runErr) {
					log.Info().Uint64("measurements", out.Count()).Msg("End of input")
					return nil
				}
				return runErr
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&wavPath, "wav", "", "read a mono 16-bit WAV file instead of the microphone")
	cmd.Flags().Uint64Var(&count, "count", 0, "stop after this many readings (0 runs until interrupted)")
	return cmd
}

// endOfInput reports whether a run ended because a file source ran out,
// including a trailing partial window
func endOfInput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// printer is the headless consumer: one line per measurement, at most limit
// lines when limit is set
type printer struct {
	w     io.Writer
	limit uint64

	seen    atomic.Uint64
	once    sync.Once
	reached chan struct{}
}

func newPrinter(w io.Writer, limit uint64) *printer {
	return &printer{w: w, limit: limit, reached: make(chan struct{})}
}

func (p *printer) Publish(m meter.Measurement) {
	if p.limit > 0 && p.seen.Load() >= p.limit {
		return
	}
	n := p.seen.Add(1)
	fmt.Fprintf(p.w, "%s  #%d  %s\n", m.At.Format(time.RFC3339), m.Seq, m.Reading)

	if p.limit > 0 && n >= p.limit {
		p.once.Do(func() { close(p.reached) })
	}
}

// Reached is closed once the configured number of readings was printed
func (p *printer) Reached() <-chan struct{} {
	return p.reached
}

// Count returns the number of lines printed
func (p *printer) Count() uint64 {
	return p.seen.Load()
}
