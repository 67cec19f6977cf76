package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/peermention/internal/config"
	"github.com/mesh-intelligence/peermention/internal/dispatch"
	"github.com/mesh-intelligence/peermention/internal/metrics"
	"github.com/mesh-intelligence/peermention/internal/transport/wshub"
)

const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	var (
		listen      string
		relayURL    string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the endpoint on the peer topic until interrupted",
		Long: "Serve joins the relay and answers probes and relayed requests for the origins the\n" +
			"whitelist serves. With --listen it also hosts the relay itself.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()
			if metricsAddr == "" {
				metricsAddr = e.rt.MetricsAddr
			}

			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Detach()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			ep, err := e.newEndpoint(store, metrics.New(reg))
			if err != nil {
				return err
			}
			defer ep.Close()
			ep.Dispatcher().OnSet(func(r dispatch.Response) {
				e.logger.Info("response",
					zap.String("op", r.OperationID),
					zap.String("result", string(r.Message.Type)),
					zap.String("target", r.Message.Target))
			})

			g, ctx := errgroup.WithContext(cmd.Context())
			out := cmd.OutOrStdout()

			if listen != "" {
				ln, err := net.Listen("tcp", listen)
				if err != nil {
					return exitError(exitSysError, "listen: %w", err)
				}
				relay := wshub.NewRelay(e.logger)
				serveHTTP(ctx, g, newServer(relay), ln, relay.Close)
				if relayURL == "" {
					relayURL = "ws://" + ln.Addr().String() + "/"
				}
				fmt.Fprintf(out, "relay listening on ws://%s/\n", ln.Addr())
			}

			if metricsAddr != "" {
				ln, err := net.Listen("tcp", metricsAddr)
				if err != nil {
					return exitError(exitSysError, "listen metrics: %w", err)
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
				serveHTTP(ctx, g, newServer(mux), ln)
				fmt.Fprintf(out, "metrics on http://%s/metrics\n", ln.Addr())
			}

			t := e.transport(relayURL)
			if t == nil {
				// Unblock the servers started above before failing.
				g.Go(func() error { return errNoRelay })
				return exitError(exitUserError, "%w", g.Wait())
			}
			if err := ep.Start(ctx, t); err != nil {
				g.Go(func() error { return err })
				return exitError(exitSysError, "join relay: %w", g.Wait())
			}
			fmt.Fprintf(out, "serving topic %q (endpoint %s)\n", e.rt.Topic, e.rt.Endpoint)

			g.Go(func() error {
				return config.WatchLists(ctx, e.configDir, e.logger, ep.Filter().SetLists)
			})
			g.Go(func() error {
				<-ctx.Done()
				return ep.Close()
			})
			if err := g.Wait(); err != nil {
				return exitError(exitSysError, "%w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "also host a relay on this address")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay URL overriding relay_url from config.yaml")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

var errNoRelay = errors.New("no relay configured; set relay_url, pass --relay, or host one with --listen")

func newRelayCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Host the relay peers meet on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return exitError(exitSysError, "listen: %w", err)
			}
			relay := wshub.NewRelay(e.logger)
			g, ctx := errgroup.WithContext(cmd.Context())
			serveHTTP(ctx, g, newServer(relay), ln, relay.Close)
			fmt.Fprintf(cmd.OutOrStdout(), "relay listening on ws://%s/\n", ln.Addr())

			if err := g.Wait(); err != nil {
				return exitError(exitSysError, "%w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8765", "address to listen on")
	return cmd
}

func newServer(h http.Handler) *http.Server {
	return &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
}

// serveHTTP runs srv on ln in g and shuts it down, then runs closers, once
// ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, ln net.Listener, closers ...func() error) {
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		return err
	})
}
