package api

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Fetcharr/internal/api/downloads"
	"github.com/hbomb79/Fetcharr/internal/api/history"
	"github.com/hbomb79/Fetcharr/internal/api/system"
	"github.com/hbomb79/Fetcharr/internal/http/websocket"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/hbomb79/Fetcharr/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr      string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
		UploadLimit   string `yaml:"upload_limit" env:"API_UPLOAD_LIMIT" env-default:"16M"`
		ServerVersion string `yaml:"-" env:"-"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// dataStore represents a union of all the controller store requirements
	dataStore interface {
		downloads.Store
		history.Store
		system.Store
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes Fetcharr exposes, manage ongoing
	// web socket connections, and relay job activity to connected clients.
	RestGateway struct {
		*broadcaster
		config              *RestConfig
		ec                  *echo.Echo
		socket              *websocket.SocketHub
		downloadsController controller
		historyController   controller
		systemController    controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. Each controller requires
// access to the job store and its collaborating services, which are
// provided as arguments.
func NewRestGateway(
	config *RestConfig,
	downloadService downloads.DownloadService,
	fetcher downloads.MetadataFetcher,
	tools system.ToolReporter,
	store dataStore,
	catalog *profile.Catalog,
	artifactPath string,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:         newBroadcaster(socket, store),
		config:              config,
		ec:                  ec,
		socket:              socket,
		downloadsController: downloads.New(validate, downloadService, fetcher, store, catalog),
		historyController:   history.New(store, catalog),
		systemController:    system.New(tools, store, artifactPath, config.ServerVersion),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.BodyLimit(config.UploadLimit))
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	apiGroup := ec.Group("/api")
	gateway.downloadsController.SetRoutes(apiGroup)
	gateway.historyController.SetRoutes(apiGroup)
	gateway.systemController.SetRoutes(apiGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
