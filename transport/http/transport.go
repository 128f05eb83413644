package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"
	"go.uber.org/zap"

	"github.com/flarexio/mooli"
	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/pipeline"
	"github.com/flarexio/mooli/vector"
)

const internalError = "An internal error occurred"

// Verifier authenticates a raw inbound platform request.
type Verifier interface {
	Verify(header http.Header, body []byte) error
}

func RootHandler(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

// RequestLogger warns about stray POSTs to the root, which chat platforms
// send when a webhook URL is misconfigured.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.With(
		zap.String("component", "http"),
	)

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.Request.URL.Path == "/" {
			headers := make(map[string]string, len(c.Request.Header))
			for k := range c.Request.Header {
				headers[k] = c.Request.Header.Get(k)
			}

			log.Warn("unexpected POST to root",
				zap.String("remote_addr", c.ClientIP()),
				zap.Any("headers", headers),
			)
		}

		c.Next()
	}
}

func SlackEventsHandler(endpoint endpoint.Endpoint, verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": internalError})
			c.Error(err)
			c.Abort()
			return
		}

		if verifier != nil {
			if err := verifier.Verify(c.Request.Header, body); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
				c.Error(err)
				c.Abort()
				return
			}
		}

		req := mooli.ReceiveRequest{
			Platform: channel.PlatformSlack,
			Payload:  body,
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			c.Error(err)
			c.Abort()
			return
		}

		receipt, ok := resp.(*mooli.Receipt)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			c.Abort()
			return
		}

		if receipt.Challenge != "" {
			c.JSON(http.StatusOK, gin.H{"challenge": receipt.Challenge})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": receipt.Status})
	}
}

func TeamsWebhookHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil || !json.Valid(body) {
			if err == nil {
				err = errors.New("invalid json body")
			}

			c.JSON(http.StatusBadRequest, gin.H{"error": internalError})
			c.Error(err)
			c.Abort()
			return
		}

		req := mooli.ReceiveRequest{
			Platform: channel.PlatformTeams,
			Payload:  body,
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			c.Error(err)
			c.Abort()
			return
		}

		receipt, ok := resp.(*mooli.Receipt)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			c.Abort()
			return
		}

		if receipt.Status == mooli.ReceiptIgnored {
			c.JSON(http.StatusOK, gin.H{"status": receipt.Status, "message": receipt.Message})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": receipt.Status, "task_id": receipt.TaskID})
	}
}

func ChatHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mooli.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			c.Error(err)
			c.Abort()
			return
		}

		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			c.Error(err)

			switch {
			case errors.Is(err, pipeline.ErrEmptyQuery):
				c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
				c.Abort()

			case errors.Is(err, vector.ErrCorruptIndex), errors.Is(err, vector.ErrIndexNotFound):
				c.JSON(http.StatusOK, mooli.ChatResponse{Message: pipeline.UnavailableMessage})

			default:
				c.JSON(http.StatusOK, mooli.ChatResponse{Message: mooli.ErrorMessage})
			}

			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func UploadHandler(endpoint endpoint.Endpoint, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
			c.Error(err)
			c.Abort()
			return
		}

		if !document.Supported(fh.Filename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
			c.Abort()
			return
		}

		if maxSize > 0 && fh.Size > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			c.Abort()
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
			c.Error(err)
			c.Abort()
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
			c.Error(err)
			c.Abort()
			return
		}

		req := mooli.UploadRequest{
			Name: fh.Filename,
			Data: data,
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			if errors.Is(err, document.ErrUnsupportedFormat) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			}

			c.Error(err)
			c.Abort()
			return
		}

		receipt, ok := resp.(*mooli.Receipt)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			c.Abort()
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": receipt.Message, "task_id": receipt.TaskID})
	}
}

func TaskStatusHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Query("task_id")

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, taskID)
		if err != nil {
			if errors.Is(err, mooli.ErrInvalidTaskID) {
				c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_id"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			}

			c.Error(err)
			c.Abort()
			return
		}

		status, ok := resp.(*mooli.TaskStatus)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalError})
			c.Abort()
			return
		}

		body := gin.H{"status": status.Status}

		switch {
		case status.Result != "":
			body["result"] = status.Result

		case status.Error != "":
			body["result"] = status.Error
		}

		c.JSON(http.StatusOK, body)
	}
}
