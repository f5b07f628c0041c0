package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/api"
	"github.com/openlexbr/douflow/internal/config"
	"github.com/openlexbr/douflow/internal/monitor"
	"github.com/openlexbr/douflow/internal/pipeline"
)

const serverShutdownTimeout = 10 * time.Second

// newMonitorCmd keeps scheduling the current edition until interrupted,
// optionally serving the HTTP status and search API.
func newMonitorCmd() *cobra.Command {
	var (
		intervalo int
		mode      string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Schedules pipeline runs for the current date on an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, "", logger)
			if err != nil {
				return err
			}
			defer a.Close()

			mcfg, err := monitorConfig(cfg, intervalo, mode)
			if err != nil {
				return err
			}
			mon, err := monitor.New(mcfg, a.orch, a.jobs, a.clock, logger)
			if err != nil {
				return err
			}

			var srv *http.Server
			srvFailed := make(chan error, 1)
			if cfg.Server.Enabled {
				srv = &http.Server{
					Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
					Handler: api.NewServer(mon, a.indexer, logger).Handler(),
				}
				go func() {
					logger.Info("status server listening", zap.String("addr", srv.Addr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("status server failed", zap.Error(err))
						srvFailed <- err
						stop()
					}
				}()
			}

			logger.Info("monitor started",
				zap.Duration("interval", mcfg.Interval),
				zap.Any("sections", mcfg.Sections),
				zap.String("mode", string(mcfg.Mode)))
			err = mon.Start(ctx)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
				defer cancel()
				if serr := srv.Shutdown(shutdownCtx); serr != nil {
					logger.Warn("status server shutdown", zap.Error(serr))
				}
			}
			if err != nil {
				return err
			}
			// A signal stop returns nil from Start; only a server crash
			// turns the shutdown into a failure.
			select {
			case serr := <-srvFailed:
				return serr
			default:
				return nil
			}
		},
	}
	cmd.Flags().IntVar(&intervalo, "intervalo", 0, "tick interval in seconds (default: config monitor.interval_seconds)")
	cmd.Flags().StringVar(&mode, "modo", "incremental", "collection mode for scheduled runs")
	return cmd
}

func monitorConfig(c config.Config, intervalo int, mode string) (monitor.Config, error) {
	interval := c.Monitor.Interval()
	if intervalo > 0 {
		interval = time.Duration(intervalo) * time.Second
	}

	sections := make([]pipeline.Section, 0, len(c.Monitor.Sections))
	for _, raw := range c.Monitor.Sections {
		s, err := pipeline.ParseSection(raw)
		if err != nil {
			return monitor.Config{}, &usageError{msg: err.Error()}
		}
		sections = append(sections, s)
	}

	m, err := pipeline.ParseMode(mode)
	if err != nil {
		return monitor.Config{}, &usageError{msg: err.Error()}
	}

	return monitor.Config{
		Interval:      interval,
		Sections:      sections,
		Mode:          m,
		MaxRetryTicks: c.Monitor.MaxRetryTicks,
		StatusDir:     c.Monitor.StatusDir,
		StatusKeep:    c.Monitor.StatusKeep,
	}, nil
}
