package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/usecase"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

// Server pushes session events to websocket clients and runs the intents
// they send.
type Server struct {
	upgrader      websocket.Upgrader
	svc           *usecase.DesignService
	messageBroker domain.MessageBroker
	hub           *Hub
	listenerDone  chan struct{}
}

func NewServer(ctx context.Context, svc *usecase.DesignService, messageBroker domain.MessageBroker) (*Server, error) {
	events, err := messageBroker.Subscribe(ctx, domain.SessionEventsTopic, domain.AnyRoutingKey)
	if err != nil {
		return nil, err
	}

	server := &Server{
		upgrader:      websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		svc:           svc,
		messageBroker: messageBroker,
		hub:           NewHub(),
		listenerDone:  make(chan struct{}),
	}

	go server.startEventListener(ctx, events)

	return server, nil
}

func (s *Server) RunWebsocketHub() {
	s.hub.Run()
}

// ClientCount reports the connected websocket clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// Shutdown tells every client the server is going away and disconnects them.
func (s *Server) Shutdown() {
	if data, err := json.Marshal(Reply{Type: "shutdown"}); err == nil {
		s.hub.Broadcast(data)
	}
	s.hub.Stop()
}

// startEventListener forwards session events from the broker to the clients
// of the session they belong to. It ends when the subscription closes.
func (s *Server) startEventListener(ctx context.Context, events <-chan domain.Message) {
	defer close(s.listenerDone)

	log.WithCtx(ctx).Info("WebSocket server listening to session events")

	for msg := range events {
		sent := s.hub.SendToSession(msg.RoutingKey, msg.Payload)
		log.WithCtx(ctx).Debug("Forwarded session event",
			zap.String("session_id", msg.RoutingKey),
			zap.Int("clients", sent))
	}

	log.WithCtx(ctx).Info("Session event listener stopped")
}

// handleIntent runs intent against the session and reports failures back to
// the client. Successful intents are reflected by session events.
func (s *Server) handleIntent(ctx context.Context, sessionID string, intent Intent) *Reply {
	ctx = log.WithOperation(ctx, intent.Type)

	var err error
	var payload interface{}
	switch intent.Type {
	case IntentChat:
		_, err = s.svc.SendChat(ctx, sessionID, intent.Text)
	case IntentSelectStyle:
		payload, err = s.svc.SelectStyle(ctx, sessionID, intent.StyleID)
	case IntentConfirm:
		_, err = s.svc.ConfirmGeneration(ctx, sessionID, intent.Instruction)
	case IntentCancel:
		err = s.svc.CancelGeneration(ctx, sessionID)
	case IntentReset:
		err = s.svc.Reset(ctx, sessionID)
	default:
		return &Reply{Type: "error", Intent: intent.Type, Error: &ErrorResponse{Code: "unknown_intent", Message: "Unknown intent"}}
	}

	if err != nil {
		log.WithCtx(ctx).Debug("Intent rejected", zap.Error(err))
		return &Reply{Type: "error", Intent: intent.Type, Error: errorResponse(err)}
	}
	if payload != nil {
		return &Reply{Type: "ack", Intent: intent.Type, Payload: payload}
	}
	return nil
}

func errorResponse(err error) *ErrorResponse {
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrBusy):
		code = "busy"
	case errors.Is(err, domain.ErrNoImage):
		code = "no_image"
	case errors.Is(err, domain.ErrNoPendingGeneration):
		code = "no_pending_generation"
	case errors.Is(err, domain.ErrUnknownStyle):
		code = "unknown_style"
	case errors.Is(err, domain.ErrEmptyMessage):
		code = "empty_message"
	case errors.Is(err, domain.ErrSessionNotFound):
		code = "session_not_found"
	}
	return &ErrorResponse{Code: code, Message: err.Error()}
}
