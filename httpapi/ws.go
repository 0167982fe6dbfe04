package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
)

const wsWriteTimeout = 10 * time.Second

// handleSubscribe streams one run: it waits for the client handshake,
// replays the backlog, then forwards live frames with periodic keepalive
// probes until the run finishes.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	token := schema.ExecutionToken(r.PathValue("token"))
	log := logx.WithRun(r.Context(), token)
	sub, err := s.hub.Subscribe(token)
	if err != nil {
		log.Warn("ws subscribe rejected", "err", err)
		writeError(w, http.StatusNotFound, err)
		return
	}
	defer sub.Cancel()

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("ws accept failed", "err", err)
		return
	}
	ctx := r.Context()

	hsCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout())
	typ, msg, err := ws.Read(hsCtx)
	cancel()
	if err != nil || typ != websocket.MessageText || string(msg) != schema.HandshakeMessage {
		log.Warn("ws handshake failed", "err", err, "message", string(msg))
		_ = ws.Close(websocket.StatusPolicyViolation, "handshake expected")
		return
	}
	log.Info("ws handshake", "backlog", len(sub.Backlog))

	readErr := make(chan error, 1)
	go func() {
		pings := 0
		for {
			_, msg, err := ws.Read(ctx)
			if err != nil {
				log.Debug("ws reader done", "pings", pings, "err", err)
				readErr <- err
				return
			}
			if string(msg) == schema.KeepaliveReply {
				pings++
				log.Trace("ws keepalive reply")
				continue
			}
			log.Debug("ws unexpected client message", "bytes", len(msg))
		}
	}()

	for _, frame := range sub.Backlog {
		if err := write(ctx, ws, frame); err != nil {
			log.Warn("ws backlog write failed", "err", err)
			return
		}
	}

	ticker := time.NewTicker(s.keepaliveInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusGoingAway, "backend shutting down")
			return
		case err := <-readErr:
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Warn("ws read failed", "err", err)
			}
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := write(ctx, ws, []byte(schema.KeepaliveProbe)); err != nil {
				log.Warn("ws keepalive failed", "err", err)
				return
			}
		case frame, ok := <-sub.C:
			if !ok {
				s.closeFinished(ws, token)
				return
			}
			if err := write(ctx, ws, frame); err != nil {
				log.Warn("ws write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) closeFinished(ws *websocket.Conn, token schema.ExecutionToken) {
	_, status, err := s.hub.Result(token)
	if err == nil && status != schema.WireRunning {
		_ = ws.Close(websocket.StatusNormalClosure, "run finished")
		return
	}
	_ = ws.Close(websocket.StatusTryAgainLater, "subscriber too slow")
}

func write(ctx context.Context, ws *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
