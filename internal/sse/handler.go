package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const writeTimeout = 60 * time.Second

// Handler serves the event stream at GET /api/v1/events.
//
// Query parameter types=a,b restricts the stream to those event types.
// A client that reconnects with a Last-Event-ID header first receives the
// retained events it missed.
type Handler struct {
	manager   *Manager
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger, heartbeat: 30 * time.Second}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if ctx.Err() != nil {
		return
	}

	types := parseTypes(r.URL.Query().Get("types"))
	lastSeq, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("streaming unsupported", slog.String("error", err.Error()))
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(types...)
	if err != nil {
		h.logger.Error("failed to register SSE client", slog.String("error", err.Error()))
		http.Error(w, "failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)

	log := h.logger.With(slog.String("client_id", client.ID))
	s := &stream{w: w, rc: rc, log: log}

	hello := map[string]any{"clientId": client.ID}
	if len(types) > 0 {
		hello["types"] = types
	}
	if err := s.send("connected", 0, hello); err != nil {
		log.Debug("client gone before handshake", slog.String("error", err.Error()))
		return
	}

	// Replay runs after Connect, so anything broadcast in between may arrive
	// twice. s.last filters those out below.
	s.last = lastSeq
	if lastSeq > 0 {
		missed := h.manager.Replay(client, lastSeq)
		for _, e := range missed {
			if err := s.sendEvent(e); err != nil {
				return
			}
		}
		log.Debug("replayed missed events", slog.Uint64("after", lastSeq), slog.Int("count", len(missed)))
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-client.EventChan:
			if !ok {
				return
			}
			if e.Seq != 0 && e.Seq <= s.last {
				continue
			}
			if err := s.sendEvent(e); err != nil {
				log.Debug("client disconnected during send")
				return
			}
		case <-ticker.C:
			if err := s.sendEvent(NewHeartbeatEvent()); err != nil {
				log.Debug("client disconnected during heartbeat")
				return
			}
		case <-client.Done:
			log.Debug("client closed by manager")
			return
		case <-ctx.Done():
			return
		}
	}
}

type stream struct {
	w    io.Writer
	rc   *http.ResponseController
	log  *slog.Logger
	last uint64
}

func (s *stream) sendEvent(e Event) error {
	if err := s.send(string(e.Type), e.Seq, e); err != nil {
		return err
	}
	if e.Seq > s.last {
		s.last = e.Seq
	}
	return nil
}

// send writes one frame. Sequenced events carry an id line so the browser
// echoes it back as Last-Event-ID on reconnect.
func (s *stream) send(name string, seq uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}

	var b strings.Builder
	if seq != 0 {
		b.WriteString("id: " + strconv.FormatUint(seq, 10) + "\n")
	}
	b.WriteString("event: " + name + "\n")
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.log.Debug("write deadline unsupported", slog.String("error", err.Error()))
	}
	return nil
}

func parseTypes(raw string) []EventType {
	if raw == "" {
		return nil
	}
	var out []EventType
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, EventType(part))
		}
	}
	return out
}

func parseLastEventID(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Last-Event-ID %q", raw)
	}
	return seq, nil
}
