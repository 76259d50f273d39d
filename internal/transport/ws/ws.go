// Package ws is the websocket transport for voice sessions.
//
// A client opens GET /v1/session?agent=<id> and upgrades to a websocket.
// Inbound binary frames are raw signed 16-bit little-endian PCM; inbound text
// frames are JSON control messages. Outbound audio_chunk messages are binary
// frames; every other egress message is a JSON text frame.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mynah-ai/mynah/internal/agent"
	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/pkg/audio"
)

// ErrSessionLimit is returned by an Opener when the server is at its
// concurrent session cap.
var ErrSessionLimit = errors.New("ws: session limit reached")

// Session is the part of a running voice session the transport drives.
// *session.Session satisfies it.
type Session interface {
	Run(ctx context.Context) error
	Push(frame audio.Frame)
	Output() *egress.Queue
	Stop()
}

// Opener creates a running session for an agent id. Implementations enforce
// the session cap and resolve the agent definition.
type Opener interface {
	Open(ctx context.Context, agentID string) (Session, error)
}

// controlMessage is an inbound JSON text frame.
type controlMessage struct {
	Type string `json:"type"`
}

// Config tunes the handler.
type Config struct {
	// SampleRate and Channels describe the PCM format of inbound binary
	// frames.
	SampleRate int
	Channels   int

	// ReadLimit bounds a single inbound frame in bytes. Zero keeps the
	// websocket library default.
	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}

// Handler upgrades HTTP requests to websocket voice sessions.
type Handler struct {
	opener Opener
	cfg    Config
	log    *slog.Logger
}

// NewHandler builds a Handler around opener.
func NewHandler(opener Opener, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{opener: opener, cfg: cfg.withDefaults(), log: log}
}

// Register adds the session route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", h.ServeSession)
}

// ServeSession handles one websocket session from upgrade to close.
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent")
	if agentID == "" {
		http.Error(w, "missing agent query parameter", http.StatusBadRequest)
		return
	}

	// Open before the upgrade so failures map to plain HTTP statuses.
	sess, err := h.opener.Open(r.Context(), agentID)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrNotFound):
			http.Error(w, "unknown agent", http.StatusNotFound)
		case errors.Is(err, ErrSessionLimit):
			http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		default:
			h.log.Error("session open failed", "agent", agentID, "error", err)
			http.Error(w, "session open failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", "agent", agentID, "error", err)
		sess.Stop()
		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	h.log.Info("session connected", "agent", agentID, "remote", r.RemoteAddr)
	err = h.serve(r.Context(), conn, sess)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Info("session closed", "agent", agentID, "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	h.log.Info("session closed", "agent", agentID)
	conn.Close(websocket.StatusNormalClosure, "")
}

// serve runs the session, the egress writer, and the inbound read loop until
// one of them ends. The first error cancels the rest.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, sess Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sess.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return egress.Forward(ctx, sess.Output(), &connSink{conn: conn})
	})
	g.Go(func() error {
		defer cancel()
		return h.readLoop(ctx, conn, sess)
	})
	return g.Wait()
}

// readLoop pushes inbound audio into the session until the client goes away.
// A normal client close ends the loop without error.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws: read: %w", err)
		}

		switch typ {
		case websocket.MessageBinary:
			sess.Push(audio.Frame{
				Data:       data,
				SampleRate: h.cfg.SampleRate,
				Channels:   h.cfg.Channels,
			})
		case websocket.MessageText:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil {
				h.log.Debug("malformed control message", "error", err)
				continue
			}
			if ctl.Type == "stop" {
				return nil
			}
			h.log.Debug("ignoring control message", "type", ctl.Type)
		}
	}
}

// connSink writes egress messages to the websocket. audio_chunk goes out as
// a binary frame, everything else as JSON text.
type connSink struct {
	conn *websocket.Conn
}

var _ egress.Sink = (*connSink)(nil)

func (s *connSink) Send(ctx context.Context, m egress.Message) error {
	if m.Type == egress.TypeAudioChunk {
		return s.conn.Write(ctx, websocket.MessageBinary, m.Audio)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", m.Type, err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}
