package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pinpoint/internal/domain"
	"pinpoint/internal/util/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxRequestBody = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server exposes a Memory relay over HTTP and WebSocket.
type Server struct {
	backend *Memory
	log     *logrus.Entry
	router  chi.Router
	now     func() time.Time
}

// NewServer builds the relay HTTP handler around backend.
func NewServer(backend *Memory, log *logrus.Entry) *Server {
	if log == nil {
		log = logging.For("relay")
	}
	s := &Server{backend: backend, log: log, now: time.Now}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))

		r.Post("/users/{id}/keys", s.publishKeys)
		r.Get("/users/{id}/keys", s.getKeys)
		r.Post("/messages", s.sendEnvelope)
		r.Get("/messages/{id}", s.fetchEnvelopes)
		r.Post("/messages/{id}/ack", s.ackEnvelopes)
	})

	// Long-lived, so outside the timeout group.
	r.Get("/ws/{id}", s.watch)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func userParam(r *http.Request) domain.UserID { return domain.UserID(chi.URLParam(r, "id")) }

func (s *Server) publishKeys(w http.ResponseWriter, r *http.Request) {
	var keys domain.UserPublicKeys
	if !decodeBody(w, r, &keys) {
		return
	}
	if err := s.backend.PublishUserKeys(r.Context(), userParam(r), keys); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getKeys(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.backend.GetUserKeys(r.Context(), userParam(r))
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) sendEnvelope(w http.ResponseWriter, r *http.Request) {
	var env domain.Envelope
	if !decodeBody(w, r, &env) {
		return
	}
	if env.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, "receiverId is required")
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = s.now().UTC()
	}
	if err := s.backend.SendEnvelope(r.Context(), env); err != nil {
		s.writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) fetchEnvelopes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	envs, err := s.backend.FetchEnvelopes(r.Context(), userParam(r), limit)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

type ackRequest struct {
	Count int `json:"count"`
}

func (s *Server) ackEnvelopes(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Count < 0 {
		writeError(w, http.StatusBadRequest, "invalid count")
		return
	}
	if err := s.backend.AckEnvelopes(r.Context(), userParam(r), req.Count); err != nil {
		s.writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// watch pushes envelopes queued for the user while the socket is open.
// Clients treat a push as a hint and still fetch and ack over HTTP.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	id := userParam(r)
	// Subscribe before the upgrade completes so that nothing queued after
	// the client's dial returns is missed.
	envs, cancel := s.backend.Watch(id)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("user_id", id).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log := s.log.WithField("user_id", id)
	log.Debug("watcher connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("watcher read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case env, ok := <-envs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				log.WithError(err).Debug("watcher write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote":     r.RemoteAddr,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": chimw.GetReqID(r.Context()),
		}).Info("request")
	})
}

func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownUser) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.WithError(err).Error("relay backend failure")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
