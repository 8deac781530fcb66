// Package server exposes chunk execution over a websocket, for harnesses
// that supervise runners across the network instead of over pipes. Each
// text message received is one chunk script; the reply is the chunk's two
// raw frames, primary then error, each as one binary message.
package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"framecap/internal/runner"
	"framecap/pkg/capture"
	"framecap/pkg/frame"
)

// maxScriptBytes bounds a single chunk script message.
const maxScriptBytes = 1 << 20

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

type Server struct {
	opts     runner.Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(opts runner.Options, logger *slog.Logger) *Server {
	if opts.Codec == nil {
		opts.Codec = frame.Binary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the HTTP handler serving the /session endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	return mux
}

// ListenAndServe runs the server on addr until it fails.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// frameMessage buffers one frame's bytes and sends them as a single binary
// websocket message when the emitter flushes. One Emit therefore maps to
// exactly one message on the socket.
type frameMessage struct {
	conn *websocket.Conn
	buf  bytes.Buffer
}

func (f *frameMessage) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *frameMessage) Flush() error {
	err := f.conn.WriteMessage(websocket.BinaryMessage, f.buf.Bytes())
	f.buf.Reset()
	return err
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxScriptBytes)

	sess := capture.NewSession(
		&frameMessage{conn: conn},
		&frameMessage{conn: conn},
		s.opts.Codec,
	)

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("session started")

	for chunk := 1; ; chunk++ {
		messageType, script, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("session closed", "chunks", chunk-1)
			} else {
				logger.Error("session read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			logger.Error("rejecting non-text chunk message", "type", messageType)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "chunk scripts must be text messages"),
				closeDeadline())
			return
		}

		exitCode, err := runner.RunChunk(sess, string(script), s.opts)
		if err != nil {
			_, _ = fmt.Fprintf(sess.Error, "framecap: %v\n", err)
		}
		logger.Info("chunk complete", "chunk", chunk, "exit_code", exitCode)

		if err := sess.EmitAll(); err != nil {
			// A partial frame on the socket cannot be repaired; drop the
			// connection so the client sees a hard failure, not a hang.
			logger.Error("emit failed, closing session", "error", err)
			return
		}
	}
}
