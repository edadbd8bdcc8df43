package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"subledger/observability"
	"subledger/storage/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64
	wsBacklogPage  = 500
)

// Hub fans committed journal entries out to websocket subscribers.
type Hub struct {
	source EntrySource

	mu     sync.Mutex
	subs   map[uint64]chan journal.Entry
	nextID uint64
}

// NewHub creates a hub that replays backlog from source.
func NewHub(source EntrySource) *Hub {
	return &Hub{source: source, subs: make(map[uint64]chan journal.Entry)}
}

// Publish delivers entry to every subscriber without blocking. A subscriber
// whose buffer is full is disconnected.
func (h *Hub) Publish(entry journal.Entry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- entry:
		default:
			delete(h.subs, id)
			close(ch)
			observability.Events().RecordDrop("websocket")
		}
	}
}

func (h *Hub) subscribe() (<-chan journal.Entry, func()) {
	ch := make(chan journal.Entry, wsBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type streamEvent struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Hash       string            `json:"hash"`
	Timestamp  int64             `json:"ts"`
}

func streamEventFrom(entry journal.Entry) (streamEvent, error) {
	evt, err := entry.Event()
	if err != nil {
		return streamEvent{}, err
	}
	return streamEvent{
		Sequence:   entry.Sequence,
		Type:       evt.Type,
		Attributes: evt.Attributes,
		Hash:       entry.Hash,
		Timestamp:  entry.CreatedAt.Unix(),
	}, nil
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Clients only read; CloseRead handles pings and cancels on disconnect.
	ctx := conn.CloseRead(r.Context())
	err = s.hub.stream(ctx, conn, after)
	var closeErr websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		// Report why the server ended the stream, e.g. 1008 for a dropped
		// slow subscriber, instead of the deferred normal closure.
		_ = conn.Close(closeErr.Code, closeErr.Reason)
	case err != nil && ctx.Err() == nil:
		s.logger.Debug("event stream closed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

// stream sends entries after the cursor, then live entries. Registration
// happens before the backlog read so nothing committed in between is lost;
// duplicates are skipped by sequence.
func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, after uint64) error {
	updates, cancel := h.subscribe()
	defer cancel()

	last := after
	if h.source != nil {
		for {
			page, err := h.source.List(ctx, last, wsBacklogPage)
			if err != nil {
				return err
			}
			for _, entry := range page {
				if err := writeEntry(ctx, conn, entry); err != nil {
					return err
				}
				last = entry.Sequence
			}
			if len(page) < wsBacklogPage {
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return websocket.CloseError{Code: websocket.StatusPolicyViolation, Reason: "subscriber too slow"}
			}
			if entry.Sequence <= last {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Sequence
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	payload, err := streamEventFrom(entry)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
