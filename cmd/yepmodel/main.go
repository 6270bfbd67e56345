// Command yepmodel replays document edits against a bound model and
// inspects saved documents.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shinyes/yep_model/pkg/config"
	"github.com/shinyes/yep_model/pkg/metrics"
	"github.com/shinyes/yep_model/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
	dataDir     string
	workspace   string
	strict      bool
)

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	RootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve metrics on this address")
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "badger directory for saved documents")
	RootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace under the data directory")
	RootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "reject batches touching undeclared fields")

	RootCmd.AddCommand(ReplayCmd)
	RootCmd.AddCommand(SyncCmd)
	RootCmd.AddCommand(InspectCmd)
}

// RootCmd is the main command for the 'yepmodel' binary.
var RootCmd = &cobra.Command{
	Use:           "yepmodel",
	Short:         "`yepmodel` binds validated models to replicated documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yepmodel: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, applies command line overrides and
// configures logging and metrics.
func setup() (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = config.Loglevel(logLevel)
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
	if dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if workspace != "" {
		cfg.Storage.Workspace = workspace
	}
	if strict {
		cfg.Binding.StrictUnknownFields = true
	}

	if err := configureLogging(logrus.StandardLogger(), cfg.Log); err != nil {
		return nil, nil, err
	}
	log := logrus.WithField("app", "yepmodel")
	if cfg.Metrics.Enabled {
		serveMetrics(cfg.Metrics.Addr, log)
	}
	return cfg, log, nil
}

func configureLogging(logger *logrus.Logger, c config.Log) error {
	level, err := logrus.ParseLevel(string(c.Level))
	if err != nil {
		return fmt.Errorf("unable to configure logging: %w", err)
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)

	switch c.Formatter {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return fmt.Errorf("unsupported logging formatter: %q", c.Formatter)
	}
	return nil
}

func serveMetrics(addr string, log *logrus.Entry) {
	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
}

// openStore opens the configured workspace, or returns a nil store when
// no data directory is configured. closeFn releases it.
func openStore(cfg *config.Config) (s store.Store, closeFn func() error, err error) {
	if cfg.Storage.Path == "" {
		return nil, nil, nil
	}
	ws := store.NewWorkspaces(cfg.Storage.Path)
	if s, err = ws.Open(cfg.Storage.Workspace); err != nil {
		return nil, nil, err
	}
	return s, ws.CloseAll, nil
}
