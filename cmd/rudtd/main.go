// Command rudtd runs the server side of the protocol: it binds a UDP
// socket, serves connections from any number of clients, and optionally
// exposes Prometheus metrics over HTTP.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gorudt/rudt/config"
	"github.com/gorudt/rudt/conn"
	"github.com/gorudt/rudt/metrics"
	"github.com/gorudt/rudt/registry"
	"github.com/gorudt/rudt/substrate"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("rudtd exiting")
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rudtd",
		Short: "Run the rudt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults are used if omitted)")
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "rudtd: bad listen address %q", cfg.Listen)
	}
	reg := registry.New(cfg.RegistryCapacity, cfg.HeartbeatTimeout.Duration())
	listener, err := substrate.Listen(addr)
	if err != nil {
		return errors.Wrap(err, "rudtd: failed to bind")
	}
	defer listener.Close()

	srv := conn.NewServer(listener, reg, cfg.MSS, log.WithField("component", "server"))

	bundle := metrics.New(nil)
	srv.SetObserver(bundle)
	srv.SetDataHandler(func(from *net.UDPAddr, payload []byte) {
		log.WithField("from", from).WithField("bytes", len(payload)).Debug("delivered payload")
	})

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	if cfg.MetricsListen != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsListen, Handler: metrics.Handler()}
		go func() {
			log.WithField("addr", cfg.MetricsListen).Info("serving metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			metricsSrv.Close()
		}()
	}

	log.WithField("addr", listener.LocalAddr()).Info("rudtd listening")
	return srv.Run(ctx)
}

func loadServerConfig(path string) (*config.Server, error) {
	if path == "" {
		return &config.Server{
			Listen:   config.DefaultListen,
			MSS:      config.DefaultMSS,
			LogLevel: config.DefaultLogLevel,
		}, nil
	}
	return config.LoadServer(path)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
