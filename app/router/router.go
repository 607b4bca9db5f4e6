package router

import (
	"net/http"

	"poolwatch/app/handler"
	"poolwatch/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	resourceHandler *handler.ResourceHandler
	filterHandler   *handler.FilterHandler
	streamHandler   *handler.StreamHandler
	watchHandler    *handler.WatchHandler
	demoHandler     *handler.DemoHandler
	apiKey          string
}

// NewRouter creates a new Router. demoHandler may be nil when the demo generator is off.
func NewRouter(resourceHandler *handler.ResourceHandler, filterHandler *handler.FilterHandler,
	streamHandler *handler.StreamHandler, watchHandler *handler.WatchHandler,
	demoHandler *handler.DemoHandler, apiKey string) *Router {
	return &Router{
		resourceHandler: resourceHandler,
		filterHandler:   filterHandler,
		streamHandler:   streamHandler,
		watchHandler:    watchHandler,
		demoHandler:     demoHandler,
		apiKey:          apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api/v1")
	{
		api.GET("/status", r.resourceHandler.Status)

		// Reconciled snapshot
		resources := api.Group("/resources")
		{
			resources.GET("/:kind", r.resourceHandler.List)                // ?all=true ignores the filter
			resources.GET("/:kind/:label", r.resourceHandler.Get)          // One entity
			resources.GET("/:kind/:label/yaml", r.resourceHandler.GetYAML) // One entity as YAML
		}
		api.GET("/workerpools/:label/model", r.resourceHandler.WorkerPoolModel)

		// Filter state
		filters := api.Group("/filters")
		{
			filters.GET("", r.filterHandler.Get)
			filters.POST("/clear", r.filterHandler.ClearAll)
			filters.POST("/:kind/add/:label", r.filterHandler.Add)
			filters.POST("/:kind/remove/:label", r.filterHandler.Remove)
			filters.POST("/:kind/toggle", r.filterHandler.Toggle)
			filters.POST("/:kind/clear", r.filterHandler.Clear)
		}

		// Revision feed (server-sent events)
		api.GET("/watch", r.watchHandler.Watch)

		// Producer ingestion
		streams := api.Group("/streams/:stream")
		streams.Use(middleware.AuthMiddleware(r.apiKey))
		{
			streams.POST("/events", r.streamHandler.Ingest)
			streams.GET("/ws", r.streamHandler.Socket)
		}

		if r.demoHandler != nil {
			demo := api.Group("/demo")
			demo.Use(middleware.AuthMiddleware(r.apiKey))
			{
				demo.DELETE("/:kind/:name", r.demoHandler.Delete)
			}
		}
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
