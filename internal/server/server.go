// Package server exposes the chat service over HTTP with Fiber.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/httpapi"
	"voice-orchestrator/internal/logbuf"
	"voice-orchestrator/internal/usecase"
)

const localsCorrelationID = "correlation_id"

// ChatService is the use case behind the chat routes.
type ChatService interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Stream(ctx context.Context, in usecase.ChatInput, emit func(domain.StreamEvent) error) error
	History(ctx context.Context, conversationID string) ([]domain.Exchange, error)
}

// LogSource is the in-memory log buffer.
type LogSource interface {
	Snapshot() []logbuf.Entry
	Subscribe() (<-chan logbuf.Entry, func())
}

type Server struct {
	app    *fiber.App
	chat   ChatService
	logs   LogSource
	logger *slog.Logger
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(chat ChatService, logs LogSource, opts ...Option) (*Server, error) {
	if chat == nil {
		return nil, errors.New("server: chat service must not be nil")
	}
	if logs == nil {
		return nil, errors.New("server: log source must not be nil")
	}
	s := &Server{chat: chat, logs: logs, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")

	app := fiber.New(fiber.Config{
		AppName:               "Voice Orchestrator",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(s.correlation)
	app.Use(s.requestLog)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(httpapi.LivenessText)
	})

	api := app.Group("/api")
	api.Post("/chat", s.handleChat)
	api.Post("/chat/stream", s.handleChatStream)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/conversations/:id", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s, nil
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) correlation(c *fiber.Ctx) error {
	id := c.Get(httpapi.CorrelationHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Locals(localsCorrelationID, id)
	c.Set(httpapi.CorrelationHeader, id)
	return c.Next()
}

func (s *Server) requestLog(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	s.logger.Info("request",
		"method", c.Method(),
		"path", c.Path(),
		"origin", c.Get(fiber.HeaderOrigin),
		"status", c.Response().StatusCode(),
		"latency_ms", time.Since(started).Milliseconds(),
		"correlation_id", correlationID(c),
	)
	return err
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	in, err := usecase.DecodeChatRequest(c.Body())
	if err != nil {
		return s.writeError(c, err)
	}
	if httpapi.WantsStream(in, c.Get(fiber.HeaderAccept)) {
		return s.stream(c, in)
	}

	out, err := s.chat.Chat(c.UserContext(), in)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(httpapi.ChatResponse{Reply: out.Reply, ConversationID: out.ConversationID})
}

func (s *Server) handleChatStream(c *fiber.Ctx) error {
	in, err := usecase.DecodeChatRequest(c.Body())
	if err != nil {
		return s.writeError(c, err)
	}
	return s.stream(c, in)
}

// stream writes the reply as server-sent events. The fiber.Ctx is not valid
// inside the body writer, so everything it needs is captured up front.
func (s *Server) stream(c *fiber.Ctx, in usecase.ChatInput) error {
	parent := c.UserContext()
	logger := s.logger.With("correlation_id", correlationID(c))

	c.Set(fiber.HeaderContentType, httpapi.EventStreamType)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()
		err := s.chat.Stream(ctx, in, func(ev domain.StreamEvent) error {
			if _, err := w.Write(httpapi.EncodeEvent(ev)); err != nil {
				return err
			}
			return w.Flush()
		})
		if err != nil {
			logger.Warn("stream ended early", "err", err)
		}
	})
	return nil
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.logs.Snapshot())
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	exchanges, err := s.chat.History(c.UserContext(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(httpapi.HistoryResponse{ConversationID: id, Exchanges: exchanges})
}

// handleLogsWS replays the buffered logs and then tails new entries until
// the client disconnects.
func (s *Server) handleLogsWS(conn *websocket.Conn) {
	entries, cancel := s.logs.Subscribe()
	defer cancel()

	for _, e := range s.logs.Snapshot() {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeError(c *fiber.Ctx, err error) error {
	status, body := httpapi.ErrorFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "err", err, "correlation_id", correlationID(c))
	} else {
		s.logger.Info("request rejected", "path", c.Path(), "err", err, "correlation_id", correlationID(c))
	}
	return c.Status(status).JSON(body)
}

// handleError renders errors returned by handlers and middleware, including
// recovered panics, in the same shape as service errors.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(httpapi.ErrorResponse{Error: fe.Message})
	}
	return s.writeError(c, err)
}

func correlationID(c *fiber.Ctx) string {
	id, _ := c.Locals(localsCorrelationID).(string)
	return id
}
