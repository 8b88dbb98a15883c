package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/cache"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/config"
	"github.com/matpinto/courtline/internal/lock"
	"github.com/matpinto/courtline/internal/logging"
	"github.com/matpinto/courtline/internal/outbox"
	"github.com/matpinto/courtline/internal/presence"
	"github.com/matpinto/courtline/internal/rest"
	"github.com/matpinto/courtline/internal/router"
	"github.com/matpinto/courtline/internal/session"
	"github.com/matpinto/courtline/internal/status"
	intsync "github.com/matpinto/courtline/internal/sync"
	"github.com/matpinto/courtline/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// warmHistoryLimit caps messages replayed per conversation from the
// cache and fetched per conversation on resync.
const warmHistoryLimit = 50

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module composes the client core: cache, store, transport, router,
// presence, outbox and sync, with lifecycle hooks that bring them up in
// dependency order.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideRest,
			provideChatStore,
			provideCache,
			provideMirror,
			provideTracker,
			provideTransport,
			provideRouter,
			provideSender,
			provideSyncEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no config at %s: run `courtline login` first", session.ConfigPath())
	}
	if err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" || cfg.Token == "" {
		return nil, errors.New("config is missing server_url or token")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideRest(cfg *config.Config, logger *zap.Logger) (*rest.Client, error) {
	c := rest.NewClient(cfg.ServerURL, cfg.Token, logger)
	if err := c.CheckToken(); err != nil {
		return nil, err
	}
	return c, nil
}

func provideChatStore(c *rest.Client, b *bus.Bus) (*chat.Store, error) {
	selfID, err := c.UserID()
	if err != nil {
		return nil, err
	}
	return chat.NewStore(selfID, b), nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	path := session.CachePath(p.Profile)
	db, err := cache.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("cache migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", path))
	return db, nil
}

func provideMirror(db *cache.DB, store *chat.Store, b *bus.Bus, logger *zap.Logger) *cache.Mirror {
	return cache.NewMirror(db, store, b, logger)
}

func provideTracker(cfg *config.Config, c *rest.Client, logger *zap.Logger) *presence.Tracker {
	thresholds := presence.Thresholds{Recently: cfg.Recently(), Away: cfg.Away()}
	return presence.NewTracker(c, thresholds, cfg.Heartbeat(), logger)
}

func provideTransport(cfg *config.Config, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Manager {
	return transport.NewManager(socketURL(cfg), cfg.Token, machine, b, cfg.Heartbeat(), logger)
}

func provideRouter(store *chat.Store, tracker *presence.Tracker, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *router.Router {
	return router.New(store, tracker, b, cfg.Typing(), logger)
}

func provideSender(store *chat.Store, m *transport.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(store, m, b, outbox.DefaultAckTimeout, logger)
}

func provideSyncEngine(c *rest.Client, store *chat.Store, db *cache.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(c, store, db, b, warmHistoryLimit, logger)
}

// socketURL derives the websocket endpoint from the API base URL when
// no explicit socket_url is configured.
func socketURL(cfg *config.Config) string {
	if cfg.SocketURL != "" {
		return cfg.SocketURL
	}
	u := cfg.ServerURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}

func registerLifecycle(
	lc fx.Lifecycle,
	lk *lock.Lock,
	db *cache.DB,
	store *chat.Store,
	mirror *cache.Mirror,
	rt *router.Router,
	tracker *presence.Tracker,
	m *transport.Manager,
	sender *outbox.Sender,
	engine *intsync.Engine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Cached state first so the UI is populated before any
			// network round trip.
			if err := db.WarmStart(store, warmHistoryLimit); err != nil {
				logger.Warn("warm start failed, continuing cold", zap.Error(err))
			}
			if err := engine.SettleUnsent(); err != nil {
				logger.Warn("settle unsent", zap.Error(err))
			}

			// Consumers before producers: everything listening on the
			// bus is running before the socket comes up.
			mirror.Start(context.Background())
			rt.Start(context.Background())
			sender.Start(context.Background())
			engine.Start(context.Background())
			tracker.StartHeartbeat(context.Background())

			// The manager handles reconnects once a socket has been up;
			// this loop covers dial failures before the first success.
			go func() {
				delay := 2 * time.Second
				for {
					err := m.Connect(context.Background())
					if err == nil {
						return
					}
					if errors.Is(err, transport.ErrAuthFailed) {
						logger.Error("authentication rejected: refresh the token and restart")
						return
					}
					logger.Warn("connect failed, retrying", zap.Duration("in", delay), zap.Error(err))
					time.Sleep(delay)
					if delay < 30*time.Second {
						delay *= 2
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			m.Disconnect()
			tracker.StopHeartbeat()
			sender.Stop()
			engine.Stop()
			rt.Stop()
			mirror.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
