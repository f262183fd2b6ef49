package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"channel-assistant/internal/domain"
	"channel-assistant/internal/usecase"
	"channel-assistant/pkg/logger"
)

const (
	correlationHeader = "X-Correlation-Id"
	errInvalidPayload = "INVALID_PAYLOAD"
)

// Responder runs the assistant for one inbound chat message.
type Responder interface {
	Respond(ctx context.Context, msg domain.InboundMessage) (usecase.Result, error)
}

type respondResponse struct {
	Outcome string `json:"outcome"`
	Chunks  int    `json:"chunks"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler adapts API Gateway proxy events carrying chat message payloads.
type Handler struct {
	responder Responder
	log       *logger.Logger
}

func NewHandler(r Responder, log *logger.Logger) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: responder must not be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{responder: r, log: log}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = usecase.WithCorrelationID(ctx, correlationID)

	var msg domain.InboundMessage
	if err := json.Unmarshal([]byte(event.Body), &msg); err != nil {
		h.log.Warn("invalid message payload", zap.String("correlation_id", correlationID), zap.Error(err))
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: errInvalidPayload}), nil
	}

	res, err := h.responder.Respond(ctx, msg)
	out := respondResponse{Outcome: string(res.Outcome), Chunks: res.Chunks}
	if err != nil {
		out.Error = string(usecase.CodeOf(err))
		if out.Error == "" {
			out.Error = "INTERNAL_ERROR"
		}
	}
	return jsonResponse(http.StatusOK, correlationID, out), nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}
