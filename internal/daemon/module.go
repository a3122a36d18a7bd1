// Package daemon composes the sync engine into a runnable process.
package daemon

import (
	"context"
	"net/http"

	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/codec"
	"github.com/terracrypt/chatsync/internal/config"
	"github.com/terracrypt/chatsync/internal/engine"
	"github.com/terracrypt/chatsync/internal/lock"
	"github.com/terracrypt/chatsync/internal/logging"
	"github.com/terracrypt/chatsync/internal/outbox"
	"github.com/terracrypt/chatsync/internal/profile"
	"github.com/terracrypt/chatsync/internal/retry"
	"github.com/terracrypt/chatsync/internal/status"
	"github.com/terracrypt/chatsync/internal/store"
	"github.com/terracrypt/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved identity passed to the fx module.
type Params struct {
	Profile string
	Token   string
	UserID  string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			provideCodec,
			provideEngineStore,
			provideReconciler,
			providePushApplier,
			provideChatReader,
			provideAPIClient,
			providePaginator,
			provideDeltaController,
			providePushClient,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(profile.ConfigPath(p.Profile))
	if err != nil {
		return nil, err
	}
	cfg.Profile = p.Profile
	logger.Info("config loaded",
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("push_url", cfg.Push.URL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.NewBus()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("profile", p.Profile))
	return l, nil
}

func provideDB(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCodec(cfg *config.Config) (codec.Codec, error) {
	if cfg.Codec.Scheme == "plain" {
		return codec.Plain{}, nil
	}
	return codec.NewXOR(cfg.Codec.Key)
}

func provideEngineStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *engine.Store {
	return engine.NewStore(db, b, logger)
}

func provideReconciler(s *engine.Store, b *bus.Bus, logger *zap.Logger) *engine.Reconciler {
	return engine.NewReconciler(s, b, logger)
}

func providePushApplier(p Params, s *engine.Store, b *bus.Bus, logger *zap.Logger) *engine.PushApplier {
	return engine.NewPushApplier(s, b, p.UserID, logger)
}

func provideChatReader(p Params, s *engine.Store, api *transport.APIClient, b *bus.Bus, logger *zap.Logger) *engine.ChatReader {
	return engine.NewChatReader(s, api, b, p.UserID, logger)
}

func provideAPIClient(p Params, cfg *config.Config, c codec.Codec, logger *zap.Logger) *transport.APIClient {
	hc := &http.Client{Timeout: cfg.ServerTimeout()}
	return transport.NewAPIClient(cfg.Server.BaseURL, p.Token, hc, c, logger)
}

func providePaginator(s *engine.Store, api *transport.APIClient, logger *zap.Logger) *engine.Paginator {
	return engine.NewPaginator(s, api, logger)
}

func provideDeltaController(s *engine.Store, pag *engine.Paginator, api *transport.APIClient, b *bus.Bus, logger *zap.Logger) *engine.DeltaController {
	return engine.NewDeltaController(s, pag, api, b, logger)
}

func providePushClient(p Params, cfg *config.Config, b *bus.Bus, m *status.Machine, c codec.Codec, logger *zap.Logger) *transport.PushClient {
	pushCfg := transport.PushConfig{
		URL:                  cfg.Push.URL,
		HeartbeatInterval:    cfg.PushHeartbeatInterval(),
		MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
		ReconnectDelay:       cfg.PushReconnectDelay(),
	}
	return transport.NewPushClient(pushCfg, p.Token, b, m, c, logger)
}

func provideSender(cfg *config.Config, s *engine.Store, rec *engine.Reconciler, api *transport.APIClient, m *status.Machine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	policy := retry.Policy{
		Attempts:       cfg.Send.Attempts,
		InitialBackoff: cfg.Send.InitialBackoff.Duration,
		MaxBackoff:     cfg.Send.MaxBackoff.Duration,
		Multiplier:     cfg.Send.Multiplier,
		Jitter:         cfg.Send.Jitter,
	}
	return outbox.NewSender(s, rec, api, m, b, policy, cfg.SendAttemptTimeout(), logger)
}

// The chat reader has no loop of its own; it is listed here so the
// graph constructs it for control surfaces layered on the daemon.
func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, applier *engine.PushApplier, _ *engine.ChatReader, ctrl *engine.DeltaController, sender *outbox.Sender, push *transport.PushClient, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers first, so nothing published during connect is
			// dropped on the floor.
			applier.Start()
			ctrl.Start()
			sender.Start()
			push.Start()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			push.Stop()
			sender.Stop()
			ctrl.Stop()
			applier.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
