package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/mooli"

	mcpE "github.com/flarexio/mooli/mcp"
)

type Options struct {
	// SlackVerifier checks Slack request signatures. Nil accepts all.
	SlackVerifier Verifier
	MaxUploadSize int64
}

func AddRouters(r *gin.Engine, endpoints mooli.EndpointSet, opts Options) {
	r.GET("/", RootHandler)
	r.POST("/", RootHandler)

	r.POST("/slack/events/", SlackEventsHandler(endpoints.Receive, opts.SlackVerifier))
	r.POST("/teams/webhook/", TeamsWebhookHandler(endpoints.Receive))

	api := r.Group("/api")
	{
		api.POST("/chat/", ChatHandler(endpoints.Chat))
		api.POST("/upload/", UploadHandler(endpoints.Upload, opts.MaxUploadSize))
		api.GET("/task-status/", TaskStatusHandler(endpoints.TaskStatus))
	}
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	mcp := r.Group("/mcp")
	{
		mcp.POST("/", MCPStreamableHandler(endpoints))
	}
}
