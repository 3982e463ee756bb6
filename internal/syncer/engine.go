// Package syncer reconciles local favorites and sites with the sync service.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/sites"
	"github.com/ppiankov/boorupan/internal/source"
	"github.com/ppiankov/boorupan/internal/sse"
)

// ErrNoSession is returned when a remote operation runs without a session.
var ErrNoSession = errors.New("no active sync session")

// Event names on the live channel.
const (
	EventHello        = "hello"
	EventPing         = "ping"
	EventFavChanged   = "fav_changed"
	EventSitesChanged = "sites_changed"
)

// Session identifies the sync server and the bearer token used against it.
type Session struct {
	Server string
	Token  string
}

// Active reports whether both server and token are set.
func (s Session) Active() bool {
	return s.Server != "" && s.Token != ""
}

func (s Session) id() string { return s.Server + "\x00" + s.Token }

// API is the remote surface the engine uses.
type API interface {
	favorites.Remote
	ListFavorites(ctx context.Context) ([]favorites.Entry, error)
	BulkUpsert(ctx context.Context, entries []favorites.Entry) error
	ListSites(ctx context.Context) ([]source.Site, error)
	PutSites(ctx context.Context, list []source.Site) error
	Stream(ctx context.Context) (io.ReadCloser, error)
}

// Connector builds an API client for a session.
type Connector func(s Session) (API, error)

// Config wires an Engine.
type Config struct {
	Favorites      *favorites.Store
	Sites          *sites.Registry
	Connect        Connector
	ReconnectDelay time.Duration
	AfterFunc      AfterFunc
	Logger         logrus.FieldLogger
	// OnEvent, when set, sees every event after it has been handled.
	OnEvent func(ev sse.Event)
}

// Engine owns the session, the remote client and the live channel.
type Engine struct {
	favs    *favorites.Store
	sites   *sites.Registry
	connect Connector
	onEvent func(sse.Event)
	log     logrus.FieldLogger
	stream  *Stream

	mu      sync.Mutex
	session Session
	api     API
	pushed  map[string]bool
}

// New validates cfg and returns an engine with no session.
func New(cfg Config) (*Engine, error) {
	if cfg.Favorites == nil {
		return nil, errors.New("syncer: favorites store is required")
	}
	if cfg.Sites == nil {
		return nil, errors.New("syncer: site registry is required")
	}
	if cfg.Connect == nil {
		return nil, errors.New("syncer: connector is required")
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	e := &Engine{
		favs:    cfg.Favorites,
		sites:   cfg.Sites,
		connect: cfg.Connect,
		onEvent: cfg.OnEvent,
		log:     log.WithField("component", "syncer"),
		pushed:  make(map[string]bool),
	}
	stream, err := NewStream(StreamConfig{
		Dial:      e.dial,
		Handle:    e.handleEvent,
		Active:    e.HasSession,
		Delay:     cfg.ReconnectDelay,
		AfterFunc: cfg.AfterFunc,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	e.stream = stream
	return e, nil
}

// Stream exposes the live channel.
func (e *Engine) Stream() *Stream { return e.stream }

// HasSession reports whether a session is attached.
func (e *Engine) HasSession() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.api != nil && e.session.Active()
}

func (e *Engine) remote() (API, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.api == nil || !e.session.Active() {
		return nil, ErrNoSession
	}
	return e.api, nil
}

// attach connects s and reports whether this is the first time s is seen.
func (e *Engine) attach(s Session) (API, bool, error) {
	if !s.Active() {
		return nil, false, ErrNoSession
	}
	api, err := e.connect(s)
	if err != nil {
		return nil, false, fmt.Errorf("connect %s: %w", s.Server, err)
	}
	e.mu.Lock()
	e.session = s
	e.api = api
	first := !e.pushed[s.id()]
	e.pushed[s.id()] = true
	e.mu.Unlock()
	e.favs.SetRemote(api)
	return api, first, nil
}

// Attach connects s for one-shot calls without pulling or opening the live
// channel. Local toggles are mirrored from then on.
func (e *Engine) Attach(s Session) error {
	_, _, err := e.attach(s)
	return err
}

// Start resumes a stored session: pull, then open the live channel.
func (e *Engine) Start(ctx context.Context, s Session) error {
	if _, _, err := e.attach(s); err != nil {
		return err
	}
	if _, err := e.PullFavoritesMerge(ctx); err != nil {
		e.log.WithError(err).Warn("initial pull failed")
	}
	e.stream.Open(ctx)
	return nil
}

// EstablishSession runs after login, registration or linking. Local
// favorites are pushed once per new session, then pulled back, the site
// lists are unioned, and the live channel is reopened.
func (e *Engine) EstablishSession(ctx context.Context, s Session) error {
	_, first, err := e.attach(s)
	if err != nil {
		return err
	}
	if first {
		if err := e.PushAllFavorites(ctx); err != nil {
			e.log.WithError(err).Warn("push on login failed")
		}
	}
	if _, err := e.PullFavoritesMerge(ctx); err != nil {
		e.log.WithError(err).Warn("pull on login failed")
	}
	if err := e.unionSites(ctx); err != nil {
		e.log.WithError(err).Warn("site union failed")
	}
	e.stream.Open(ctx)
	return nil
}

// EndSession detaches the remote and closes the live channel.
func (e *Engine) EndSession() {
	e.mu.Lock()
	e.session = Session{}
	e.api = nil
	e.mu.Unlock()
	e.favs.SetRemote(nil)
	e.stream.Close()
}

// PullFavoritesMerge replaces the local favorites with the remote list.
// It returns the number of entries kept.
func (e *Engine) PullFavoritesMerge(ctx context.Context) (int, error) {
	api, err := e.remote()
	if err != nil {
		return 0, err
	}
	entries, err := api.ListFavorites(ctx)
	if err != nil {
		return 0, fmt.Errorf("pull favorites: %w", err)
	}
	n, err := e.favs.Replace(ctx, entries)
	if err != nil {
		return 0, err
	}
	e.log.WithField("count", n).Debug("favorites pulled")
	return n, nil
}

// PushAllFavorites uploads every local favorite in one bulk call.
func (e *Engine) PushAllFavorites(ctx context.Context) error {
	api, err := e.remote()
	if err != nil {
		return err
	}
	entries := e.favs.List()
	if err := api.BulkUpsert(ctx, entries); err != nil {
		return fmt.Errorf("push favorites: %w", err)
	}
	e.log.WithField("count", len(entries)).Debug("favorites pushed")
	return nil
}

// RefreshSites replaces the local site list with the remote one.
func (e *Engine) RefreshSites(ctx context.Context) error {
	api, err := e.remote()
	if err != nil {
		return err
	}
	list, err := api.ListSites(ctx)
	if err != nil {
		return fmt.Errorf("refresh sites: %w", err)
	}
	return e.sites.Replace(ctx, valid(list, e.log))
}

func (e *Engine) unionSites(ctx context.Context) error {
	api, err := e.remote()
	if err != nil {
		return err
	}
	remoteList, err := api.ListSites(ctx)
	if err != nil {
		return fmt.Errorf("list remote sites: %w", err)
	}
	merged := sites.Union(valid(remoteList, e.log), e.sites.List())
	if err := e.sites.Replace(ctx, merged); err != nil {
		return err
	}
	if err := api.PutSites(ctx, merged); err != nil {
		return fmt.Errorf("push sites: %w", err)
	}
	return nil
}

// valid drops remote sites that would fail local validation.
func valid(list []source.Site, log logrus.FieldLogger) []source.Site {
	out := make([]source.Site, 0, len(list))
	for _, s := range list {
		if err := s.Validate(); err != nil {
			log.WithError(err).WithField("site", s.Name).Debug("remote site skipped")
			continue
		}
		out = append(out, s)
	}
	return out
}

func (e *Engine) dial(ctx context.Context) (io.ReadCloser, error) {
	api, err := e.remote()
	if err != nil {
		return nil, err
	}
	return api.Stream(ctx)
}

type favChange struct {
	Removed bool   `json:"removed"`
	Key     string `json:"key"`
}

func (e *Engine) handleEvent(ctx context.Context, ev sse.Event) {
	switch ev.Event {
	case EventHello, EventPing:
	case EventFavChanged:
		var change favChange
		if ev.Data != "" {
			if err := json.Unmarshal([]byte(ev.Data), &change); err != nil {
				e.log.WithError(err).Debug("malformed fav_changed payload")
				return
			}
		}
		if change.Removed && change.Key != "" {
			if _, err := e.favs.Remove(ctx, change.Key); err != nil {
				e.log.WithError(err).Warn("remote delete not applied")
			}
			break
		}
		if _, err := e.PullFavoritesMerge(ctx); err != nil {
			e.log.WithError(err).Warn("pull after fav_changed failed")
		}
	case EventSitesChanged:
		if ev.Data != "" && !json.Valid([]byte(ev.Data)) {
			e.log.Debug("malformed sites_changed payload")
			return
		}
		if err := e.RefreshSites(ctx); err != nil {
			e.log.WithError(err).Warn("refresh after sites_changed failed")
		}
	default:
		return
	}
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
