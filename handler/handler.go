// Package handler serves the chat routes behind API Gateway on AWS Lambda.
package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/httpapi"
	"voice-orchestrator/internal/logbuf"
	"voice-orchestrator/internal/usecase"
)

const conversationsPrefix = "/api/conversations/"

type ChatService interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Stream(ctx context.Context, in usecase.ChatInput, emit func(domain.StreamEvent) error) error
	History(ctx context.Context, conversationID string) ([]domain.Exchange, error)
}

// LogSnapshotter exposes the buffered logs of this execution environment.
type LogSnapshotter interface {
	Snapshot() []logbuf.Entry
}

type Handler struct {
	chat   ChatService
	logs   LogSnapshotter
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogs(l LogSnapshotter) Option {
	return func(h *Handler) {
		h.logs = l
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(chat ChatService, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	h := &Handler{chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "lambda")
	return h, nil
}

// Handle routes one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, httpapi.CorrelationHeader)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	logger := h.logger.With("correlation_id", correlationID)
	logger.Info("request", "method", req.HTTPMethod, "path", req.Path, "origin", header(req.Headers, "Origin"))

	path := strings.TrimRight(req.Path, "/")
	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodOptions:
		resp = events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	case req.HTTPMethod == http.MethodGet && path == "":
		resp = text(http.StatusOK, httpapi.LivenessText)
	case req.HTTPMethod == http.MethodPost && (path == "/api/chat" || path == "/api/chat/stream"):
		resp = h.chatRoute(ctx, logger, req, path == "/api/chat/stream")
	case req.HTTPMethod == http.MethodGet && path == "/api/logs":
		resp = h.logsRoute()
	case req.HTTPMethod == http.MethodGet && strings.HasPrefix(path, conversationsPrefix):
		resp = h.historyRoute(ctx, logger, strings.TrimPrefix(path, conversationsPrefix))
	default:
		resp = jsonResponse(http.StatusNotFound, httpapi.ErrorResponse{Error: "NOT_FOUND", Message: "no route for " + req.HTTPMethod + " " + req.Path})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[httpapi.CorrelationHeader] = correlationID
	resp.Headers["Access-Control-Allow-Origin"] = "*"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type, Accept, " + httpapi.CorrelationHeader
	resp.Headers["Access-Control-Allow-Methods"] = "GET, POST, OPTIONS"
	return resp, nil
}

func (h *Handler) chatRoute(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest, forceStream bool) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		return h.errorResponse(logger, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body", Err: err})
	}
	in, err := usecase.DecodeChatRequest(body)
	if err != nil {
		return h.errorResponse(logger, err)
	}

	if forceStream || httpapi.WantsStream(in, header(req.Headers, "Accept")) {
		// API Gateway proxy responses cannot be streamed; the events are
		// buffered into one event-stream body.
		var buf bytes.Buffer
		err := h.chat.Stream(ctx, in, func(ev domain.StreamEvent) error {
			buf.Write(httpapi.EncodeEvent(ev))
			return nil
		})
		if err != nil {
			return h.errorResponse(logger, err)
		}
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers: map[string]string{
				"Content-Type":  httpapi.EventStreamType,
				"Cache-Control": "no-cache",
			},
			Body: buf.String(),
		}
	}

	out, err := h.chat.Chat(ctx, in)
	if err != nil {
		return h.errorResponse(logger, err)
	}
	return jsonResponse(http.StatusOK, httpapi.ChatResponse{Reply: out.Reply, ConversationID: out.ConversationID})
}

func (h *Handler) logsRoute() events.APIGatewayProxyResponse {
	entries := []logbuf.Entry{}
	if h.logs != nil {
		entries = h.logs.Snapshot()
	}
	return jsonResponse(http.StatusOK, entries)
}

func (h *Handler) historyRoute(ctx context.Context, logger *slog.Logger, id string) events.APIGatewayProxyResponse {
	exchanges, err := h.chat.History(ctx, id)
	if err != nil {
		return h.errorResponse(logger, err)
	}
	return jsonResponse(http.StatusOK, httpapi.HistoryResponse{ConversationID: id, Exchanges: exchanges})
}

func (h *Handler) errorResponse(logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	status, body := httpapi.ErrorFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	} else {
		logger.Info("request rejected", "err", err)
	}
	return jsonResponse(status, body)
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": httpapi.ContentTypeJSON},
		Body:       string(b),
	}
}

func text(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       body,
	}
}

// header looks name up case-insensitively; API Gateway preserves client casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
