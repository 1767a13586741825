package router

import (
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/leandro-lugaresi/hub"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/repository"
	"github.com/traPtitech/calQ/router/extension"
	"github.com/traPtitech/calQ/router/middlewares"
	"github.com/traPtitech/calQ/service/call"
	"github.com/traPtitech/calQ/service/presence"
	"github.com/traPtitech/calQ/service/room"
	"github.com/traPtitech/calQ/service/typing"
	"github.com/traPtitech/calQ/service/ws"
)

// Config ルーター設定
type Config struct {
	// Development 開発モードかどうか
	Development bool
	// Version サーバーバージョン
	Version string
	// Revision サーバーリビジョン
	Revision string
	// AdminToken 管理API用トークン。空の場合、管理APIは常に拒否される
	AdminToken string
}

// Handlers APIハンドラ
type Handlers struct {
	Repo     repository.Repository
	WS       *ws.Streamer
	Calls    *call.Manager
	Presence *presence.Tracker
	Typing   *typing.Coordinator
	Rooms    *room.Broker
	Hub      *hub.Hub
	Logger   *zap.Logger

	Config *Config
}

// Setup APIサーバーを構築します
func Setup(h *Handlers, logger *zap.Logger, config *Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = extension.ErrorHandler(logger)
	e.Use(middleware.RequestID())
	e.Use(middlewares.RequestCounter())
	e.Use(middlewares.AccessLogging(logger.Named("access_log"), config.Development))
	e.Use(middlewares.Recovery(logger))

	api := e.Group("/api")
	api.GET("/metrics", echoprometheus.NewHandler())
	api.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, http.StatusText(http.StatusOK)) })
	api.GET("/version", h.GetVersion)
	h.Setup(api)

	return e
}

// Setup APIルーティングを行います
func (h *Handlers) Setup(e *echo.Group) {
	api := e.Group("/v1", middlewares.UserAuthenticate())
	{
		api.GET("/ws", echo.WrapHandler(h.WS))
		api.GET("/presence", h.GetPresence)

		apiRooms := api.Group("/rooms")
		{
			apiRooms.GET("/:roomID/typing", h.GetRoomTyping)
		}

		apiCalls := api.Group("/calls")
		{
			apiCalls.GET("", h.GetCalls)
			apiCalls.GET("/active", h.GetActiveCalls)
			apiCalls.GET("/stats", h.GetCallStats)
			apiCalls.POST("/cleanup", h.PostCallsCleanup)
		}
	}
}

// GetVersion GET /api/version
func (h *Handlers) GetVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"version":  h.Config.Version,
		"revision": h.Config.Revision,
	})
}
