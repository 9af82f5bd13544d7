package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jrhy/tiptree"
	"go.uber.org/zap"
)

// DefaultMaxMessageBytes bounds incoming messages if
// ServerConfig.MaxMessageBytes is unset.
const DefaultMaxMessageBytes = 16 << 20

// ErrBadRequest is returned for requests the server could not parse or
// does not support.
var ErrBadRequest = errors.New("bad request")

// ErrRemote is returned for server-side failures with no more specific
// classification.
var ErrRemote = errors.New("remote error")

// Backend is what a Server exposes; *tiptree.Store implements it.
type Backend interface {
	Apply(ctx context.Context, prev tiptree.Tip, path string, v tiptree.Value) (tiptree.Tip, error)
	Resolve(ctx context.Context, tip tiptree.Tip, path string) (tiptree.Value, bool, error)
}

// ServerConfig controls a Server.
type ServerConfig struct {
	// Log receives connection and failure logs. Defaults to a no-op logger.
	Log *zap.Logger
	// MaxMessageBytes bounds the size of a request. 0 means
	// DefaultMaxMessageBytes.
	MaxMessageBytes int64
}

// Server is an http.Handler that upgrades to a websocket and answers
// requests on it in order.
type Server struct {
	backend  Backend
	upgrader websocket.Upgrader
	maxBytes int64
	log      *zap.Logger
}

// NewServer returns a Server for the given backend.
func NewServer(backend Backend, cfg ServerConfig) *Server {
	s := Server{
		backend:  backend,
		maxBytes: cfg.MaxMessageBytes,
		log:      cfg.Log,
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxMessageBytes
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return &s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(s.maxBytes)
	log := s.log.With(zap.String("remote", r.RemoteAddr))
	log.Info("connected")
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("disconnected")
			} else {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			log.Warn("unexpected message type", zap.Int("type", messageType))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary messages only"))
			return
		}
		resp := s.handle(r.Context(), message)
		if resp.Code != CodeOK {
			log.Warn("request failed",
				zap.Stringer("id", resp.ID),
				zap.Uint64("code", uint64(resp.Code)),
				zap.String("message", resp.Message))
		}
		out, err := resp.Marshal()
		if err != nil {
			resp = Response{ID: resp.ID, Code: CodeInternal, Message: err.Error()}
			out, _ = resp.Marshal()
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, out); err != nil {
			log.Warn("write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, message []byte) Response {
	req, err := UnmarshalRequest(message)
	if err != nil {
		return failure(req, fmt.Errorf("%w: %v", ErrBadRequest, err))
	}
	switch req.Op {
	case OpApply:
		if req.Value == nil {
			return failure(req, fmt.Errorf("%w: apply without a value", ErrBadRequest))
		}
		tip, err := s.backend.Apply(ctx, req.Tip, req.Path, req.Value)
		if err != nil {
			return failure(req, err)
		}
		return Response{ID: req.ID, Tip: tip}
	case OpResolve:
		v, found, err := s.backend.Resolve(ctx, req.Tip, req.Path)
		if err != nil {
			return failure(req, err)
		}
		return Response{ID: req.ID, Tip: req.Tip, Found: found, Value: v}
	}
	return failure(req, fmt.Errorf("%w: unknown op %s", ErrBadRequest, req.Op))
}

func failure(req Request, err error) Response {
	return Response{ID: req.ID, Code: codeFor(err), Message: err.Error()}
}

func codeFor(err error) Code {
	switch {
	case errors.Is(err, tiptree.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, tiptree.ErrCodec):
		return CodeCodec
	case errors.Is(err, tiptree.ErrUnsupportedValue):
		return CodeUnsupportedValue
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrFrame):
		return CodeBadRequest
	}
	return CodeInternal
}

func errorFor(code Code, message string) error {
	var sentinel error
	switch code {
	case CodeOK:
		return nil
	case CodeNotFound:
		sentinel = tiptree.ErrNotFound
	case CodeCodec:
		sentinel = tiptree.ErrCodec
	case CodeUnsupportedValue:
		sentinel = tiptree.ErrUnsupportedValue
	case CodeBadRequest:
		sentinel = ErrBadRequest
	default:
		sentinel = ErrRemote
	}
	return fmt.Errorf("rpc: %s: %w", message, sentinel)
}
