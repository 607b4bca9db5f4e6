package main

import (
	"fmt"
	"net/http"

	"poolwatch/app/handler"
	"poolwatch/app/router"
	"poolwatch/pkg/config"
	"poolwatch/pkg/demo"
	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
	"poolwatch/pkg/reconcile"
	"poolwatch/pkg/stream"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initRedis initializes Redis. It is only needed by the redis transport;
// without it distributed locks degrade to single-instance mode.
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.InfoCtx(app.ctx, "Redis not configured, skipping")
		return nil
	}

	client, err := stream.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		if app.config.Streams.Transport == config.TransportRedis {
			return err
		}
		logger.WarnCtx(app.ctx, "Redis unavailable, continuing without it: %v", err)
		return nil
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initEngine creates the hub and attaches the reconcile engine to it
func (app *Application) initEngine() error {
	app.hub = stream.NewHub()
	app.limits = events.Limits{MaxWorkerIndex: app.config.Engine.MaxWorkerIndex}
	app.engine = reconcile.NewEngine(reconcile.Options{
		QueueSize: app.config.Engine.QueueSize,
		Limits:    app.limits,
	})

	detach := app.engine.Attach(app.hub)
	app.registerCleanup(func() {
		detach()
		logger.InfoCtx(app.ctx, "Reconcile engine detached from streams")
	})
	return nil
}

// initSources selects the stream transport and the publisher used by
// HTTP ingestion and the demo generator
func (app *Application) initSources() error {
	app.publisher = stream.HubPublisher{Hub: app.hub}

	switch app.config.Streams.Transport {
	case config.TransportRedis:
		if app.redisClient == nil {
			return fmt.Errorf("redis transport selected but redis is not connected")
		}
		app.sources = append(app.sources, stream.NewRedisSource(app.redisClient, app.config.Redis.ChannelPrefix))
		// Publish through Redis so every replica sees ingested events
		app.publisher = stream.NewRedisPublisher(app.redisClient, app.config.Redis.ChannelPrefix)

	case config.TransportSSE:
		app.sources = append(app.sources, stream.NewSSESource(app.config.Streams.SSE))

	case config.TransportKube:
		client, err := stream.NewKubeClient(app.config.Kube.Kubeconfig)
		if err != nil {
			return err
		}
		app.sources = append(app.sources, stream.NewKubeSource(client, app.config.Kube))

	default:
		logger.InfoCtx(app.ctx, "Using in-memory transport, events arrive via HTTP ingestion only")
	}

	logger.InfoCtx(app.ctx, "Stream transport: %s", app.config.Streams.Transport)
	return nil
}

// initDemo creates the synthetic event generator when enabled
func (app *Application) initDemo() error {
	if !app.config.Demo.Enabled {
		logger.InfoCtx(app.ctx, "Demo generator disabled, skipping")
		return nil
	}
	app.generator = demo.NewGenerator(app.publisher, app.config.Demo.Interval, app.config.Demo.Seed)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.resourceHandler = handler.NewResourceHandler(app.engine)
	app.filterHandler = handler.NewFilterHandler(app.engine)
	app.streamHandler = handler.NewStreamHandler(app.publisher, app.limits)
	app.watchHandler = handler.NewWatchHandler(app.engine, app.config.Engine.WatchInterval)

	if app.generator != nil {
		app.demoHandler = handler.NewDemoHandler(app.generator)
		logger.InfoCtx(app.ctx, "Demo handler initialized")
	}
	if app.config.Server.APIKey == "" {
		logger.WarnCtx(app.ctx, "server.api_key is empty, ingestion endpoints are unauthenticated")
	}

	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	// Initialize router
	r := router.NewRouter(app.resourceHandler, app.filterHandler, app.streamHandler,
		app.watchHandler, app.demoHandler, app.config.Server.APIKey)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
