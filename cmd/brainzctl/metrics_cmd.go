package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func (a *app) counters(cmd *cobra.Command, project string) (*metrics.Counters, error) {
	if project == "" {
		project = a.cfg.Metrics.Project
	}
	if project == "" {
		return nil, errors.New("no project, pass --project or set metrics.project")
	}
	c, err := a.connect(cmd.Context())
	if err != nil {
		return nil, err
	}
	opts := []metrics.Option{metrics.WithDatacenter(a.cfg.Metrics.Datacenter), metrics.WithLogger(a.log)}
	if a.cfg.Metrics.Server != "" {
		opts = append(opts, metrics.WithServer(a.cfg.Metrics.Server))
	}
	return metrics.New(c, project, opts...)
}

func newMetricsCommand(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Read and export the project counters",
	}
	cmd.PersistentFlags().StringVar(&project, "project", "", "project the counters belong to")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print every counter of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.counters(cmd, project)
			if err != nil {
				return err
			}
			stats, err := m.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, stats)
		},
	})

	var by int64
	incr := &cobra.Command{
		Use:   "incr NAME",
		Short: "Increment a counter of the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.counters(cmd, project)
			if err != nil {
				return err
			}
			n, err := m.Increment(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, n)
		},
	}
	incr.Flags().Int64Var(&by, "by", 1, "amount to add")
	cmd.AddCommand(incr)

	cmd.AddCommand(newMetricsServeCommand(a, &project))
	return cmd
}

func newMetricsServeCommand(a *app, project *string) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the counters on /metrics for Prometheus and /stats as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.counters(cmd, *project)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			srv := &http.Server{
				Addr:              listen,
				Handler:           newMetricsMux(m),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(cmd.Context(), a, srv)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on, defaults to metrics.listen")
	return cmd
}

func newMetricsMux(m *metrics.Counters) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		metrics.NewCollector(m),
	)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /stats", m.Handler())
	return mux
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, a *app, srv *http.Server) error {
	errs := make(chan error, 1)
	go func() {
		a.log.Info("listening on %s", srv.Addr)
		errs <- srv.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return errors.Wrap(err, "serve metrics")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown metrics server")
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
