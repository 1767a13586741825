package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/leandro-lugaresi/hub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/traPtitech/calQ/repository"
	"github.com/traPtitech/calQ/repository/gorm"
	"github.com/traPtitech/calQ/router"
	"github.com/traPtitech/calQ/service/call"
	"github.com/traPtitech/calQ/service/connection"
	"github.com/traPtitech/calQ/service/gateway"
	"github.com/traPtitech/calQ/service/presence"
	"github.com/traPtitech/calQ/service/room"
	"github.com/traPtitech/calQ/service/typing"
	"github.com/traPtitech/calQ/service/ws"
)

// serveCommand サーバー起動コマンド
func serveCommand() *cobra.Command {
	var skipMigration bool

	cmd := cobra.Command{
		Use:   "serve",
		Short: "Serve calQ API",
		Run: func(cmd *cobra.Command, args []string) {
			// Logger
			logger := getLogger()
			defer logger.Sync()

			logger.Info(fmt.Sprintf("calQ %s (revision %s)", Version, Revision))

			// Message Hub
			hub := hub.New()

			// Database
			logger.Info("connecting database...")
			engine, err := c.getDatabase(logger)
			if err != nil {
				logger.Fatal("failed to connect database", zap.Error(err))
			}
			db, err := engine.DB()
			if err != nil {
				logger.Fatal("failed to get *sql.DB", zap.Error(err))
			}
			defer db.Close()
			logger.Info("database connection was established")

			// Repository
			logger.Info("setting up repository...")
			repo, err := gorm.NewGormRepository(engine, hub, logger, !skipMigration)
			if err != nil {
				logger.Fatal("failed to initialize repository", zap.Error(err))
			}
			logger.Info("repository was set up")

			// サーバー作成
			server := newServer(hub, repo, logger, &c)

			go func() {
				if err := server.Start(fmt.Sprintf(":%d", c.Port)); err != nil {
					logger.Info("shutting down the server")
				}
			}()

			logger.Info("calQ started")
			waitSIGINT()
			logger.Info("calQ shutting down...")

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.ShutdownTimeout)*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Warn("abnormal shutdown", zap.Error(err))
			}
			logger.Info("calQ shutdown")
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&skipMigration, "skip-migration", false, "skip database auto migration")

	return &cmd
}

type Server struct {
	L       *zap.Logger
	Router  *echo.Echo
	WS      *ws.Streamer
	Gateway *gateway.Facade
	Hub     *hub.Hub
}

func newServer(h *hub.Hub, repo repository.Repository, logger *zap.Logger, c *Config) *Server {
	streamer := ws.NewStreamer(logger)
	registry := connection.NewRegistry()
	tracker := presence.NewTracker(h)
	broker := room.NewBroker(registry, streamer, h)
	typingCoordinator := typing.NewCoordinator(broker,
		time.Duration(c.Typing.TTL)*time.Second,
		time.Duration(c.Typing.SweepInterval)*time.Second)
	callManager := call.NewManager(registry, streamer, repo, h, logger, c.getCallConfig())
	facade := gateway.NewFacade(registry, broker, typingCoordinator, callManager, streamer, gateway.NopMessageStore(), h, logger)
	streamer.SetGateway(facade)

	routerConfig := c.getRouterConfig()
	handlers := &router.Handlers{
		Repo:     repo,
		WS:       streamer,
		Calls:    callManager,
		Presence: tracker,
		Typing:   typingCoordinator,
		Rooms:    broker,
		Hub:      h,
		Logger:   logger,
		Config:   routerConfig,
	}

	return &Server{
		L:       logger,
		Router:  router.Setup(handlers, logger.Named("router"), routerConfig),
		WS:      streamer,
		Gateway: facade,
		Hub:     h,
	}
}

func (s *Server) Start(address string) error {
	return s.Router.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := s.Router.Shutdown(ctx)
		s.L.Info("Router shutdown")
		return err
	})
	eg.Go(func() error {
		err := s.WS.Close()
		s.L.Info("WebSocket shutdown")
		return err
	})
	eg.Go(func() error {
		err := s.Gateway.Shutdown(ctx)
		s.L.Info("Gateway shutdown")
		return err
	})
	return eg.Wait()
}
