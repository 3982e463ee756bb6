package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/config"
	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/feed"
	"github.com/ppiankov/boorupan/internal/kvstore"
	"github.com/ppiankov/boorupan/internal/logging"
	"github.com/ppiankov/boorupan/internal/remote"
	"github.com/ppiankov/boorupan/internal/sites"
	"github.com/ppiankov/boorupan/internal/source"
	"github.com/ppiankov/boorupan/internal/sse"
	"github.com/ppiankov/boorupan/internal/store"
	"github.com/ppiankov/boorupan/internal/syncer"
	"github.com/ppiankov/boorupan/internal/transport"
)

// Metadata keys for the stored sync session.
const (
	metaServer = "sync.server"
	metaToken  = "sync.token"
)

// backend is what both local stores provide.
type backend interface {
	favorites.Persister
	sites.Persister
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	FavoriteStats(ctx context.Context) ([]favorites.SiteStats, error)
	Close() error
}

// app is the wired set of components one command runs against.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	db     backend
	client *transport.HTTP
	favs   *favorites.Store
	sites  *sites.Registry
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(configDir, config.Overrides{
		Server:         env.GetString("server"),
		Token:          env.GetString("token"),
		LogLevel:       env.GetString("log-level"),
		StorageBackend: env.GetString("storage"),
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openBackend(cfg *config.Config, log logrus.FieldLogger) (backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		return kvstore.Open(cfg.Storage.Path, log)
	case config.BackendSQLite:
		return store.Open(cfg.Storage.Path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// openApp loads config, opens storage, and loads favorites and sites.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(os.Stderr, cfg.Log, cfg.Privacy.Redact)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	db, err := openBackend(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg: cfg,
		log: log,
		db:  db,
		client: transport.New(
			transport.WithTimeout(cfg.Feed.HTTPTimeout.Duration),
			transport.WithRateLimit(cfg.Feed.RequestsPerSecond),
			transport.WithUserAgent("boorupan/"+Version),
		),
	}
	if a.favs, err = favorites.NewStore(db, favorites.WithLogger(log)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.favs.Load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if a.sites, err = sites.NewRegistry(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.sites.Load(ctx, cfg.SeedSites()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Close waits for in-flight remote mirrors and closes storage.
func (a *app) Close() error {
	a.favs.Wait()
	return a.db.Close()
}

func (a *app) resolve(site source.Site) (source.Adapter, error) {
	return source.New(site.Type, a.client)
}

func (a *app) aggregator() (*feed.Aggregator, error) {
	return feed.NewAggregator(feed.Config{
		Sites:     a.sites,
		Resolve:   a.resolve,
		Favorites: a.favs,
		PageSize:  a.cfg.Feed.PageSize,
		Logger:    a.log,
	})
}

// session returns the configured session, falling back to the one stored
// by "sync login".
func (a *app) session(ctx context.Context) (syncer.Session, error) {
	s := syncer.Session{Server: a.cfg.Sync.Server, Token: a.cfg.Sync.Token}
	if s.Server == "" {
		v, err := a.db.GetValue(ctx, metaServer)
		if err != nil {
			return s, err
		}
		s.Server = v
	}
	if s.Token == "" {
		v, err := a.db.GetValue(ctx, metaToken)
		if err != nil {
			return s, err
		}
		s.Token = v
	}
	return s, nil
}

func (a *app) saveSession(ctx context.Context, s syncer.Session) error {
	if err := a.db.SetValue(ctx, metaServer, s.Server); err != nil {
		return err
	}
	return a.db.SetValue(ctx, metaToken, s.Token)
}

func (a *app) connect(s syncer.Session) (syncer.API, error) {
	token := s.Token
	client := transport.New(
		transport.WithTimeout(a.cfg.Feed.HTTPTimeout.Duration),
		transport.WithUserAgent("boorupan/"+Version),
		transport.WithBearer(func() string { return token }),
	)
	return remote.New(s.Server, client)
}

func (a *app) engine(onEvent func(sse.Event)) (*syncer.Engine, error) {
	return syncer.New(syncer.Config{
		Favorites:      a.favs,
		Sites:          a.sites,
		Connect:        a.connect,
		ReconnectDelay: a.cfg.Sync.ReconnectDelay.Duration,
		Logger:         a.log,
		OnEvent:        onEvent,
	})
}

// attachSession mirrors local toggles to the remote when a session is
// stored. It returns a nil engine when there is none.
func (a *app) attachSession(ctx context.Context) (*syncer.Engine, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	if !s.Active() {
		return nil, nil
	}
	eng, err := a.engine(nil)
	if err != nil {
		return nil, err
	}
	if err := eng.Attach(s); err != nil {
		if errors.Is(err, syncer.ErrNoSession) {
			return nil, nil
		}
		return nil, err
	}
	return eng, nil
}

// resumeSession attaches the stored session and pulls the remote favorites
// before the command reads them. A failed pull leaves the local set as is.
func (a *app) resumeSession(ctx context.Context) (*syncer.Engine, error) {
	eng, err := a.attachSession(ctx)
	if err != nil || eng == nil {
		return eng, err
	}
	if _, err := eng.PullFavoritesMerge(ctx); err != nil {
		a.log.WithError(err).Warn("startup pull failed")
	}
	return eng, nil
}
