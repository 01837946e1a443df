package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aiy-labs/aiy/internal/assembler"
	"github.com/aiy-labs/aiy/internal/config"
	"github.com/aiy-labs/aiy/internal/instructions"
	"github.com/aiy-labs/aiy/internal/llm"
	"github.com/aiy-labs/aiy/internal/logging"
	"github.com/aiy-labs/aiy/internal/memory"
	"github.com/aiy-labs/aiy/internal/observability"
	"github.com/aiy-labs/aiy/internal/relay"
	"github.com/aiy-labs/aiy/internal/retrieval"
)

// wsReadDeadline bounds how long an idle connection is kept open. The pong
// handler refreshes it.
const wsReadDeadline = 120 * time.Second

// Deps are the shared collaborators behind every connection. Window stores
// are built per connection: each one is bound to a single partition.
type Deps struct {
	Store        memory.TurnStore
	Instructions *instructions.Cache
	Retrieval    *retrieval.Service
	Adapter      llm.Adapter
	Metrics      *observability.Metrics
}

type Server struct {
	cfg      config.Config
	deps     Deps
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive a user's chat
				// session if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Post("/v1/documents", s.handleUpsertDocument)
	r.Delete("/v1/history", s.handleClearHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"retrieval_mode": s.cfg.RetrievalMode,
		"model":          s.cfg.ModelName,
	})
}

// partition resolves the user/segment pair from query parameters, falling
// back to the configured defaults.
func (s *Server) partition(r *http.Request) (userID, segmentID string) {
	userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = s.cfg.DefaultUserID
	}
	segmentID = strings.TrimSpace(r.URL.Query().Get("segment_id"))
	if segmentID == "" {
		segmentID = s.cfg.DefaultSegmentID
	}
	return userID, segmentID
}

// newRelay wires a relay for one connection's partition.
func (s *Server) newRelay(userID, segmentID string) (*relay.Relay, error) {
	window := memory.NewWindowStore(s.deps.Store, memory.PartitionKey(userID, segmentID), s.cfg.WindowSize)

	asm, err := assembler.New(assembler.Config{
		Instructions:          s.deps.Instructions,
		Window:                window,
		Retrieval:             s.deps.Retrieval,
		Metrics:               s.deps.Metrics,
		UserID:                userID,
		SegmentID:             segmentID,
		SystemInstructionsKey: s.cfg.SystemInstructionsKey,
		UsageInstructionsKey:  s.cfg.ContextUsageKey,
		TopK:                  s.cfg.RetrievalTopK,
	})
	if err != nil {
		return nil, err
	}

	return relay.New(relay.Config{
		Assembler: asm,
		Window:    window,
		Adapter:   s.deps.Adapter,
		Metrics:   s.deps.Metrics,
		Pacing:    s.cfg.StreamPacing,
	}, logging.NewModuleLogger("relay", memory.PartitionKey(userID, segmentID)))
}

// wsSender adapts a websocket connection to the relay's outbound channel.
// Writes are single-threaded: only the read loop's active Handle call sends.
type wsSender struct {
	conn    *websocket.Conn
	metrics *observability.Metrics
}

func (s *wsSender) Send(text string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return err
	}
	s.metrics.WSMessages.WithLabelValues("outbound", "text").Inc()
	return nil
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID, segmentID := s.partition(r)

	rl, err := s.newRelay(userID, segmentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "relay_unavailable", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.deps.Metrics.ActiveConnections.Inc()
	defer s.deps.Metrics.ActiveConnections.Dec()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	out := &wsSender{conn: conn, metrics: s.deps.Metrics}

	// One request at a time per connection. A message arriving while a
	// stream is in flight queues in the transport buffer until this loop
	// comes back around.
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.deps.Metrics.WSMessages.WithLabelValues("inbound", "chat").Inc()

		// Handle has already sent the error frame on failure; the error
		// here is for operators only.
		_ = rl.Handle(r.Context(), data, out)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	}
}

type upsertDocumentRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`

	// Optional per-request chunking overrides; zero means configured default.
	MaxChunkSize int `json:"max_chunk_size"`
	MinChunkSize int `json:"min_chunk_size"`
}

type upsertDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

func (s *Server) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	var req upsertDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "document_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	maxSize, minSize := s.cfg.ChunkMaxSize, s.cfg.ChunkMinSize
	if req.MaxChunkSize > 0 {
		maxSize = req.MaxChunkSize
	}
	if req.MinChunkSize > 0 {
		minSize = req.MinChunkSize
	}
	if minSize <= 0 || maxSize <= minSize {
		respondError(w, http.StatusBadRequest, "invalid_request", "max_chunk_size must exceed min_chunk_size")
		return
	}

	chunks, err := s.deps.Retrieval.UpsertDocument(r.Context(), req.Content, req.DocumentID,
		maxSize, minSize)
	if err != nil {
		respondError(w, http.StatusBadGateway, "index_unavailable", err.Error())
		return
	}

	s.deps.Metrics.DocumentsUpserted.Inc()
	s.deps.Metrics.ChunksIndexed.Add(float64(chunks))
	respondJSON(w, http.StatusOK, upsertDocumentResponse{DocumentID: req.DocumentID, Chunks: chunks})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, segmentID := s.partition(r)
	window := memory.NewWindowStore(s.deps.Store, memory.PartitionKey(userID, segmentID), s.cfg.WindowSize)

	if err := window.Clear(r.Context()); err != nil {
		s.deps.Metrics.PersistenceFailures.WithLabelValues("clear").Inc()
		respondError(w, http.StatusBadGateway, "clear_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "cleared",
		"user_id":    userID,
		"segment_id": segmentID,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
