package httpapi

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
)

const (
	authQueryParam  = "x-token"
	maxRequestBytes = 1 << 20
	historyTime     = "2006-01-02 15:04:05"
)

// Server serves the execution REST API and the WebSocket subscriptions of
// the development backend.
type Server struct {
	cfg      Config
	hub      *Hub
	sim      *Simulator
	basePath string
	apiRoot  string

	mu      sync.Mutex
	baseCtx context.Context
}

// NewServer constructs a backend server around hub.
func NewServer(cfg Config, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HistoryRuns, cfg.ResultTTL)
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		sim:      NewSimulator(hub, cfg.LineDelay),
		basePath: normalizeBasePath(cfg.BasePath),
		apiRoot:  advertisedRoot(cfg.BaseURL, cfg.Addr, cfg.BasePath),
		baseCtx:  context.Background(),
	}
}

// SetBaseContext sets the parent context of simulated runs.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// APIRoot is the base URL clients should be configured with.
func (s *Server) APIRoot() string {
	return s.apiRoot
}

// Hub returns the run hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/exec/ansible/{$}", s.requireToken(s.handleHistory))
	mux.HandleFunc("POST /api/exec/ansible/{$}", s.requireToken(s.handleStart))
	mux.HandleFunc("GET /api/exec/ansible/result/{token}/{$}", s.handleResult)
	mux.HandleFunc("POST /api/exec/ansible/size/{token}/{$}", s.requireToken(s.handleSize))
	mux.HandleFunc("GET /ws/subscribe/{token}/{$}", s.requireToken(s.handleSubscribe))

	handler := withRequestLogging(mux, tokenFromPath)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var req jobapi.RunRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn("http run rejected", "reason", "decode", "err", err)
		writeEnvelopeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.sim.Start(s.baseContext(), req)
	if err != nil {
		log.Warn("http run rejected", "reason", "validate", "err", err)
		writeEnvelopeError(w, http.StatusOK, err)
		return
	}
	logx.WithRun(r.Context(), info.Token).Info("http run started", "hosts", len(req.HostList))
	writeEnvelope(w, runPayload(info))
}

// runPayload encodes the start response with outputs in key order.
func runPayload(info RunInfo) json.RawMessage {
	var buf bytes.Buffer
	token, _ := json.Marshal(info.Token)
	buf.WriteString(`{"token":`)
	buf.Write(token)
	buf.WriteString(`,"outputs":{`)
	for i, key := range info.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(key)
		meta, _ := json.Marshal(map[string]string{"title": info.Titles[key]})
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(meta)
	}
	buf.WriteString(`}}`)
	return buf.Bytes()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs := s.hub.History()
	entries := make([]jobapi.HistoryEntry, 0, len(runs))
	for i, run := range runs {
		entry := jobapi.HistoryEntry{
			ID:          len(runs) - i,
			Digest:      string(run.Token),
			Interpreter: "ansible-playbook",
			Command:     run.Playbook,
			HostIDs:     run.HostIDs,
			UpdatedAt:   run.CreatedAt.Format(historyTime),
		}
		if run.TemplateID != 0 {
			id := run.TemplateID
			entry.TemplateID = &id
		}
		entries = append(entries, entry)
	}
	writeEnvelope(w, entries)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	token := schema.ExecutionToken(r.PathValue("token"))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	output, status, err := s.hub.Result(token)
	if err != nil {
		logx.WithRun(r.Context(), token).Debug("http result missing")
		writeError(w, http.StatusNotFound, errors.New("token not found or expired"))
		return
	}
	writeJSON(w, http.StatusOK, jobapi.Result{Output: output, Status: status})
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	token := schema.ExecutionToken(r.PathValue("token"))
	var geom schema.Geometry
	if err := decodeJSON(r.Body, &geom); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err)
		return
	}
	if !geom.Valid() {
		writeEnvelopeError(w, http.StatusBadRequest, fmt.Errorf("invalid geometry %dx%d", geom.Cols, geom.Rows))
		return
	}
	if err := s.hub.SetGeometry(token, geom); err != nil {
		writeEnvelopeError(w, http.StatusNotFound, err)
		return
	}
	logx.WithRun(r.Context(), token).Debug("http geometry", "cols", geom.Cols, "rows", geom.Rows)
	writeEnvelope(w, nil)
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next(w, r)
			return
		}
		got := r.Header.Get(jobapi.TokenHeader)
		if got == "" {
			got = r.URL.Query().Get(authQueryParam)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIToken)) != 1 {
			logx.Ctx(r.Context()).With("remote", clientIP(r)).Warn("http token rejected", "missing", got == "")
			writeEnvelopeError(w, http.StatusUnauthorized, errors.New("invalid api token"))
			return
		}
		next(w, r)
	}
}

func (s *Server) keepaliveInterval() time.Duration {
	if s.cfg.KeepaliveInterval > 0 {
		return s.cfg.KeepaliveInterval
	}
	return 10 * time.Second
}

func (s *Server) handshakeTimeout() time.Duration {
	if s.cfg.HandshakeTimeout > 0 {
		return s.cfg.HandshakeTimeout
	}
	return 15 * time.Second
}

func decodeJSON(body io.Reader, target any) error {
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBytes))
	return dec.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeEnvelope(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "error": ""})
}

func writeEnvelopeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"data": nil, "error": err.Error()})
}
