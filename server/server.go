// Package server exposes the chat pipeline over HTTP with gin.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaharia-lab/shopassist"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RequestIDHeader carries the request id; one is generated when the client sends none.
const RequestIDHeader = "X-Request-ID"

const defaultServiceName = "shopassist"

// ChatService handles one chat turn. *shopassist.SessionOrchestrator implements it.
type ChatService interface {
	HandleMessage(ctx context.Context, req shopassist.ChatRequest) (shopassist.ChatReply, error)
}

// Config wires the HTTP layer.
type Config struct {
	Chat    ChatService
	History shopassist.ChatHistoryStorage
	// Gatherer backs /metrics; defaults to prometheus.DefaultGatherer.
	Gatherer    prometheus.Gatherer
	Logger      shopassist.Logger
	ServiceName string
	// RequestTimeout bounds one chat turn; zero means no limit beyond the client's.
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	chat           ChatService
	history        shopassist.ChatHistoryStorage
	gatherer       prometheus.Gatherer
	log            shopassist.Logger
	serviceName    string
	requestTimeout time.Duration
}

// New creates a Server. Chat and History are required.
func New(cfg Config) (*Server, error) {
	if cfg.Chat == nil || cfg.History == nil {
		return nil, errors.New("server requires a chat service and a history store")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = shopassist.NewNullLogger()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	return &Server{
		chat:           cfg.Chat,
		history:        cfg.History,
		gatherer:       cfg.Gatherer,
		log:            cfg.Logger,
		serviceName:    cfg.ServiceName,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(s.serviceName), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/chat")
	api.POST("", s.handleChat)
	api.GET("/:sessionId/messages", s.handleGetMessages)
	api.DELETE("/:sessionId", s.handleClearHistory)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("requestId", requestID)

		start := time.Now()
		c.Next()

		s.log.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
			"requestId": requestID,
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		}).Info("HTTP request handled")
	}
}

func (s *Server) handleChat(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body must be valid JSON"})
		return
	}
	if err := validate.Struct(body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	req := shopassist.ChatRequest{
		SessionID: body.SessionID,
		UserID:    body.UserID,
		Message:   body.Message,
		Model:     body.Model,
	}
	if strings.TrimSpace(body.Image) != "" {
		image, err := shopassist.ParseImage(body.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "image must be base64 encoded"})
			return
		}
		req.Image = &image
	}

	ctx := c.Request.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	reply, err := s.chat.HandleMessage(ctx, req)
	if err != nil {
		var validationErr *shopassist.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: validationErr.Message})
			return
		}
		s.log.WithErr(err).Error("Chat turn failed unexpectedly")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: shopassist.ApologyReply})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Response:   reply.Text,
		SessionID:  reply.SessionID,
		Products:   reply.Products,
		IntentType: reply.IntentType,
	})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	messages, err := s.history.GetMessages(c.Request.Context(), sessionID)
	if err != nil {
		s.log.WithErr(err).WithFields(map[string]interface{}{"sessionId": sessionID}).Error("Failed to read chat history")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read chat history"})
		return
	}
	c.JSON(http.StatusOK, historyResponse{SessionID: sessionID, Messages: messages})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	if err := s.history.ClearHistory(c.Request.Context(), sessionID); err != nil {
		s.log.WithErr(err).WithFields(map[string]interface{}{"sessionId": sessionID}).Error("Failed to clear chat history")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to clear chat history"})
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionParam(c *gin.Context) (string, bool) {
	sessionID := c.Param("sessionId")
	if err := validate.Var(sessionID, "required,sessionid"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid session id"})
		return "", false
	}
	return sessionID, true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	switch fe := fieldErrs[0]; fe.Field() {
	case "Message":
		return "message is too long"
	case "Image":
		return "image is too large"
	case "SessionID":
		return "invalid session id"
	default:
		return strings.ToLower(fe.Field()) + " is invalid"
	}
}
