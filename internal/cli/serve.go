package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/metrics"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/registry"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/replay"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var (
		addr, replayInput string
		replaySpeed       float64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over WebSocket with /health and /metrics",
		Example: `  airq serve --addr :9090
  airq serve --replay data/processed/frankfurt_pm25.csv --replay-speed 86400`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr = orDefault(addr, a.cfg.Server.Addr)

			dm, err := a.loadModels()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			m.ObserveTraining(dm.Metrics)

			hub := ws.NewHub(a.logger.Named("hub"))
			m.WatchConnections(hub)
			handler := ws.NewHandler(hub, dm, a.logger.Named("ws"))
			handler.Observer = m

			reg, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			if reg != nil {
				defer reg.Close()
				if _, err := reg.Run(ctx, dm.RunID); err == nil {
					handler.Recorder = reg
				} else if errors.Is(err, registry.ErrNotFound) {
					a.logger.Warn("run not registered, predictions not recorded", zap.String("run_id", dm.RunID))
				} else {
					return model.PersistenceErrorf("registry", "%w", err)
				}
			}

			if replayInput != "" {
				obs, err := a.fileSource(replayInput).Observations(ctx)
				if err != nil {
					return err
				}
				eng, err := replay.New(obs, dm, a.cfg.FeatureConfig(), handler.Bridge())
				if err != nil {
					return err
				}
				eng.SetSpeed(replaySpeed)
				defer eng.Pause()
				handler.Replay = eng
				tr := eng.TimeRange()
				a.logger.Info("replay ready",
					zap.String("input", replayInput),
					zap.Time("start", tr.Start),
					zap.Time("end", tr.End),
				)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           ws.NewServeMux(handler, m.Handler()),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("starting server", zap.String("addr", addr), zap.String("run_id", dm.RunID))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&replayInput, "replay", "", "processed series CSV to replay through the models over /ws")
	cmd.Flags().Float64Var(&replaySpeed, "replay-speed", replay.DefaultSpeed, "replay speed in simulated seconds per second")
	return cmd
}
