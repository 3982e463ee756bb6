// Package devserver is an in-memory sync service for local development and
// integration tests. State is per user and lost on exit.
package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/privacy"
	"github.com/ppiankov/boorupan/internal/source"
)

const (
	Issuer              = "boorupan-dev"
	DefaultTokenTTL     = 30 * 24 * time.Hour
	DefaultPingInterval = 25 * time.Second
	ctxClaimsKey        = "auth_claims"
)

// Config configures a Server.
type Config struct {
	Secret       string
	PingInterval time.Duration
	Logger       logrus.FieldLogger
}

type item struct {
	Key     string       `json:"key"`
	AddedAt int64        `json:"added_at"`
	Post    *source.Post `json:"post"`
}

type userState struct {
	favs  map[string]item
	sites []source.Site
}

// Server holds per-user favorites and sites behind the /api surface.
type Server struct {
	tokens TokenService
	hub    *Hub
	ping   time.Duration
	log    logrus.FieldLogger

	mu    sync.Mutex
	users map[string]*userState
}

func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("devserver: secret is required")
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}
	return &Server{
		tokens: TokenService{Secret: []byte(cfg.Secret), Issuer: Issuer, Duration: DefaultTokenTTL},
		hub:    NewHub(),
		ping:   ping,
		log:    log.WithField("component", "devserver"),
		users:  make(map[string]*userState),
	}, nil
}

// Hub exposes the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Tokens exposes the token service.
func (s *Server) Tokens() TokenService { return s.tokens }

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": s.hub.Count()})
	})
	r.POST("/api/login", s.login)

	api := r.Group("/api", s.authMiddleware())
	api.GET("/favourites", s.listFavourites)
	api.PUT("/favourites/:key", s.putFavourite)
	api.DELETE("/favourites/:key", s.deleteFavourite)
	api.POST("/favourites/bulk_upsert", s.bulkUpsert)
	api.GET("/sites", s.listSites)
	api.PUT("/sites", s.putSites)
	api.GET("/stream", s.stream)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithField("addr", addr).Info("dev sync server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    privacy.RedactURL(c.Request.URL.RequestURI()),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		claims, err := s.tokens.Parse(strings.TrimSpace(h[len("Bearer "):]))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Set(ctxClaimsKey, claims)
		c.Next()
	}
}

func userOf(c *gin.Context) string {
	v, ok := c.Get(ctxClaimsKey)
	if !ok {
		return ""
	}
	claims, _ := v.(*Claims)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

func (s *Server) state(user string) *userState {
	st, ok := s.users[user]
	if !ok {
		st = &userState{favs: make(map[string]item)}
		s.users[user] = st
	}
	return st
}

type loginReq struct {
	User string `json:"user"`
}

func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.User) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user required"})
		return
	}
	token, exp, err := s.tokens.Sign(strings.TrimSpace(req.User))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)})
}

func (s *Server) listFavourites(c *gin.Context) {
	s.mu.Lock()
	st := s.state(userOf(c))
	items := make([]item, 0, len(st.favs))
	for _, it := range st.favs {
		items = append(items, it)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt != items[j].AddedAt {
			return items[i].AddedAt > items[j].AddedAt
		}
		return items[i].Key < items[j].Key
	})
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type putReq struct {
	Post    *source.Post `json:"post"`
	AddedAt int64        `json:"added_at"`
}

func (s *Server) putFavourite(c *gin.Context) {
	key := c.Param("key")
	var req putReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Post == nil || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and post required"})
		return
	}
	if req.AddedAt == 0 {
		req.AddedAt = time.Now().UnixMilli()
	}
	user := userOf(c)
	s.mu.Lock()
	s.state(user).favs[key] = item{Key: key, AddedAt: req.AddedAt, Post: req.Post}
	s.mu.Unlock()

	s.hub.Publish(user, Message{Event: "fav_changed", Data: gin.H{"key": key}})
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteFavourite(c *gin.Context) {
	key := c.Param("key")
	user := userOf(c)
	s.mu.Lock()
	delete(s.state(user).favs, key)
	s.mu.Unlock()

	s.hub.Publish(user, Message{Event: "fav_changed", Data: gin.H{"removed": true, "key": key}})
	c.Status(http.StatusNoContent)
}

type bulkReq struct {
	Items []item `json:"items"`
}

func (s *Server) bulkUpsert(c *gin.Context) {
	var req bulkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user := userOf(c)
	accepted := 0
	s.mu.Lock()
	st := s.state(user)
	for _, it := range req.Items {
		if it.Key == "" || it.Post == nil {
			continue
		}
		st.favs[it.Key] = it
		accepted++
	}
	s.mu.Unlock()

	if accepted > 0 {
		s.hub.Publish(user, Message{Event: "fav_changed", Data: gin.H{"bulk": true}})
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

func (s *Server) listSites(c *gin.Context) {
	s.mu.Lock()
	list := append([]source.Site{}, s.state(userOf(c)).sites...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"sites": list})
}

type sitesReq struct {
	Sites []source.Site `json:"sites"`
}

func (s *Server) putSites(c *gin.Context) {
	var req sitesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user := userOf(c)
	s.mu.Lock()
	s.state(user).sites = append([]source.Site{}, req.Sites...)
	s.mu.Unlock()

	s.hub.Publish(user, Message{Event: "sites_changed", Data: gin.H{"count": len(req.Sites)}})
	c.Status(http.StatusNoContent)
}

func (s *Server) stream(c *gin.Context) {
	user := userOf(c)
	id, ch, cancel := s.hub.Subscribe(user)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{"subscriber": id, "user": user})
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("hello", gin.H{"subscriber": id})
	c.Writer.Flush()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, msg.Data)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UnixMilli()})
			return true
		}
	})
}
