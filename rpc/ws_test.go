package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"subledger/storage/journal"
)

func TestSlowSubscriberSeesPolicyViolation(t *testing.T) {
	hub := NewHub(nil)
	s := &Server{hub: hub, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	srv := httptest.NewServer(http.HandlerFunc(s.handleEventsWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Drop the subscriber exactly as Publish does when its buffer is full.
	hub.mu.Lock()
	for id, ch := range hub.subs {
		delete(hub.subs, id)
		close(ch)
	}
	hub.mu.Unlock()

	for {
		_, _, err = conn.Read(ctx)
		if err != nil {
			break
		}
	}
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	var closeErr websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	require.Equal(t, "subscriber too slow", closeErr.Reason)
}

func TestPublishDropsFullSubscriber(t *testing.T) {
	hub := NewHub(nil)
	updates, cancel := hub.subscribe()
	defer cancel()
	for seq := uint64(1); seq <= wsBuffer; seq++ {
		hub.Publish(journal.Entry{Sequence: seq})
	}
	require.Equal(t, 1, hub.Subscribers())
	hub.Publish(journal.Entry{Sequence: wsBuffer + 1})
	require.Zero(t, hub.Subscribers())

	var last uint64
	for entry := range updates {
		last = entry.Sequence
	}
	require.Equal(t, uint64(wsBuffer), last)
}
