package cli

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/config"
	"github.com/mesh-intelligence/peermention/internal/drive"
	"github.com/mesh-intelligence/peermention/internal/filter"
	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/internal/metrics"
	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/internal/peer"
	"github.com/mesh-intelligence/peermention/internal/transport/wshub"
	"github.com/mesh-intelligence/peermention/internal/verify"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// env is the resolved runtime a command works against.
type env struct {
	configDir string
	dataDir   string
	rt        config.Runtime
	logger    *zap.Logger
}

// loadEnv resolves directories, loads config.yaml and builds the logger.
func loadEnv() (*env, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, exitError(exitSysError, "resolve config dir: %w", err)
	}
	rt, err := config.Load(configDir)
	if err != nil {
		return nil, exitError(exitSysError, "load config: %w", err)
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, rt.DataDir)
	if err != nil {
		return nil, exitError(exitSysError, "resolve data dir: %w", err)
	}
	level := rt.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger, err := logging.New(level, rt.LogFormat)
	if err != nil {
		return nil, exitError(exitUserError, "logging: %w", err)
	}
	return &env{configDir: configDir, dataDir: dataDir, rt: rt, logger: logger}, nil
}

// close flushes the logger.
func (e *env) close() {
	_ = e.logger.Sync()
}

// openStore attaches the configured drive store. The caller must Detach it.
func (e *env) openStore() (drive.Store, error) {
	store, err := drive.Open(types.Config{Backend: e.rt.Backend, DataDir: e.dataDir})
	if err != nil {
		return nil, exitError(exitSysError, "open drive store: %w", err)
	}
	return store, nil
}

// newEndpoint wires an endpoint over store with the saved access lists.
// m may be nil.
func (e *env) newEndpoint(store drive.Store, m *metrics.Metrics) (*peer.Endpoint, error) {
	lists, err := config.LoadLists(e.configDir)
	if err != nil {
		return nil, exitError(exitSysError, "load lists: %w", err)
	}
	verifier := verify.New(e.logger, m,
		verify.DriveRetriever{Drives: store},
		verify.NewHTTPRetriever(e.rt.FetchTimeout),
	)
	return peer.New(peer.Config{
		Endpoint: e.rt.Endpoint,
		Topic:    e.rt.Topic,
		Timeout:  e.rt.PeerTimeout,
	}, peer.Deps{
		Drives:   store,
		Verifier: verifier,
		Filter:   filter.New(lists, e.logger),
		Logger:   e.logger,
		Metrics:  m,
	}), nil
}

// transport returns the relay transport, or nil when no relay is configured.
func (e *env) transport(relayURL string) types.Transport {
	if relayURL == "" {
		relayURL = e.rt.RelayURL
	}
	if relayURL == "" {
		return nil
	}
	return &wshub.Transport{URL: relayURL, Logger: e.logger}
}
