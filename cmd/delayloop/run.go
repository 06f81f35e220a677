package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/delayloop/internal/api"
	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/config"
	"github.com/yok-tottii/delayloop/internal/console"
	"github.com/yok-tottii/delayloop/internal/device"
	"github.com/yok-tottii/delayloop/internal/loopback"
	"github.com/yok-tottii/delayloop/internal/observe"
	"github.com/yok-tottii/delayloop/internal/server"
	"github.com/yok-tottii/delayloop/internal/session"
)

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Select devices and start the delayed loopback",
		Long:  "Select an input and an output device, then loop audio between them with the configured delay until the quit key or Ctrl+C",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			driver, err := audio.NewPortAudioDriver()
			if err != nil {
				log.Error("failed to initialize audio driver", "error", err)
				return err
			}

			err = run(ctx, cfg, driver, cmd.InOrStdin(), cmd.OutOrStdout(), log.Logger)
			if err != nil {
				log.Error("delayloop failed", "error", err)
			}
			return err
		},
	}
}

// run owns driver from here on; it is terminated on every return path.
func run(ctx context.Context, cfg *config.Config, driver audio.Driver, in io.Reader, out io.Writer, log *slog.Logger) error {
	engine, err := loopback.New(loopback.Config{
		Delay:      cfg.DelayDuration(),
		SampleRate: cfg.SampleRate,
		PageLen:    cfg.PageLen,
		Capacity:   cfg.QueueCapacity,
	})
	if err != nil {
		if terr := driver.Terminate(); terr != nil {
			log.Error("failed to release audio driver", "error", terr)
		}
		return err
	}

	sess := session.New(driver, engine, session.Config{
		SampleRate: cfg.SampleRate,
		PageLen:    cfg.PageLen,
		Latency:    cfg.LatencyMode(),
	}, log)
	defer func() {
		fmt.Fprintln(out, "Releasing resources... ")
		if err := sess.Close(); err != nil {
			log.Error("failed to release resources", "error", err)
		}
		fmt.Fprintln(out, "Resources released. ")
	}()

	selector := device.New(device.Config{
		Devices:  driver,
		Prompter: console.NewPrompter(in, out),
		Out:      out,
		HostAPI:  cfg.HostAPI,
		Logger:   log,
	})

	inSel, err := selector.Select(ctx, audio.Input, cfg.InputGuesses)
	if err != nil {
		return selectionError(err, out, log)
	}
	outSel, err := selector.Select(ctx, audio.Output, cfg.OutputGuesses)
	if err != nil {
		return selectionError(err, out, log)
	}

	if err := sess.Start(inSel, outSel); err != nil {
		return err
	}

	if cfg.Status.Addr != "" {
		_, stopStatus, err := startStatusServer(cfg, sess, engine, driver, log)
		if err != nil {
			return err
		}
		defer stopStatus()
	}

	listener := console.NewListener(in, out, cfg.QuitKey, statusLine(engine))
	reason, err := sess.Run(ctx, listener)

	switch reason {
	case session.ReasonQuitKey:
		fmt.Fprintf(out, "%s received. Shutting down. \n", keyTitle(cfg.QuitKey))
	case session.ReasonInterrupt:
		fmt.Fprintln(out, "Ctrl+C received. Shutting down. ")
	}

	st := engine.Stats()
	log.Info("final stats", "reason", reason.String(), "captured", st.Captured, "played", st.Played,
		"underruns", st.Underruns, "overruns", st.Overruns, "depth", st.Depth)
	return err
}

// selectionError turns an interrupted prompt into a clean exit
func selectionError(err error, out io.Writer, log *slog.Logger) error {
	if errors.Is(err, console.ErrInterrupted) {
		fmt.Fprintln(out, "Ctrl+C received. Shutting down. ")
		log.Info("selection interrupted")
		return nil
	}
	if errors.Is(err, audio.ErrDeviceChanged) {
		return fmt.Errorf("%w; please run the selection again", err)
	}
	return err
}

// startStatusServer serves /metrics and /api/* until the returned func is called
func startStatusServer(cfg *config.Config, sess *session.Session, engine *loopback.Engine, devices device.Enumerator, log *slog.Logger) (*server.Server, func(), error) {
	provider, err := observe.NewProvider(version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}

	reg, err := observe.RegisterEngine(provider.MeterProvider(), engine)
	if err != nil {
		provider.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = cfg.Status.Addr
	srv := server.New(serverConfig, log)
	srv.GetMux().Handle("/metrics", provider.Handler())
	api.New(cfg, sess, devices).RegisterRoutes(srv.GetMux())

	if err := srv.Start(); err != nil {
		reg.Unregister()
		provider.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("failed to start status server: %w", err)
	}

	return srv, func() {
		if err := srv.Stop(); err != nil {
			log.Warn("failed to stop status server", "error", err)
		}
		reg.Unregister()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn("failed to shut down metrics provider", "error", err)
		}
	}, nil
}

func statusLine(engine *loopback.Engine) console.StatusFunc {
	return func() string {
		st := engine.Stats()
		return fmt.Sprintf("queue %d/%d  underruns %d  overruns %d", st.Depth, st.Capacity, st.Underruns, st.Overruns)
	}
}

// keyTitle capitalises a bubbletea key name: "esc" becomes "Esc"
func keyTitle(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
