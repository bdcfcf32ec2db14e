package status

import (
	"context"
	goerrs "errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/entities"
	"github.com/sessamekesh/coop-relay/pkg/server"
	"go.uber.org/zap"
)

// Source is the read-only view of a running relay the API reports on.
type Source interface {
	Settings() server.Settings
	Clients() []*clients.Client
	Entities() *entities.Store
}

type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Players     int             `json:"players"`
	MaxPlayers  int             `json:"maxPlayers"`
	Entities    entities.Counts `json:"entities"`
}

type PlayerInfo struct {
	Username  string  `json:"username"`
	PedID     int32   `json:"pedId"`
	Latency   float32 `json:"latency"`
	Connected int64   `json:"connectedAt"`
}

type StatusServerParams struct {
	ListenAddress string
	Logger        *zap.Logger
}

type StatusServer struct {
	source Source
	params StatusServerParams
	log    *zap.Logger
	router *gin.Engine
}

func CreateStatusServer(source Source, params StatusServerParams) *StatusServer {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	s := &StatusServer{
		source: source,
		params: params,
		log:    logger.With(zap.String("handler", "StatusServer")),
	}
	s.router = s.setupRouter()
	return s
}

func (s *StatusServer) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/info", s.getInfo)
	r.GET("/players", s.getPlayers)
	return r
}

func (s *StatusServer) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("Status request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *StatusServer) getInfo(c *gin.Context) {
	settings := s.source.Settings()
	c.JSON(http.StatusOK, Info{
		Name:        settings.Name,
		Description: settings.Description,
		Version:     settings.CompatibleVersion,
		Players:     len(s.source.Clients()),
		MaxPlayers:  settings.MaxPlayers,
		Entities:    s.source.Entities().Count(),
	})
}

func (s *StatusServer) getPlayers(c *gin.Context) {
	all := s.source.Clients()
	players := make([]PlayerInfo, 0, len(all))
	for _, client := range all {
		players = append(players, PlayerInfo{
			Username:  client.Username,
			PedID:     client.PedID,
			Latency:   client.Latency(),
			Connected: client.ConnectedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, players)
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx ends.
func (s *StatusServer) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.params.ListenAddress,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Status server shutdown failed", zap.Error(err))
		}
	}()

	s.log.Info("Status API listening", zap.String("addr", s.params.ListenAddress))
	if err := httpServer.ListenAndServe(); err != nil && !goerrs.Is(err, http.ErrServerClosed) {
		s.log.Error("Status server stopped", zap.Error(err))
		return err
	}
	return nil
}
