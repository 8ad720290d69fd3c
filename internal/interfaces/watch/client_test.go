package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": status == http.StatusOK,
		"data":    data,
		"error":   errMsg,
	})
}

func newTestAPI(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/letters/L1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerActorID) != "S" {
			writeEnvelope(w, http.StatusUnauthorized, nil, "unknown actor")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]interface{}{"id": "L1", "status": "APPROVED", "version": 3, "title": "x"}, "")
	})
	mux.HandleFunc("/api/letters/missing", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, nil, "letter not found")
	})
	mux.HandleFunc("/api/letters", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]interface{}{
			{"id": "L1", "status": "PENDING", "version": 1},
			{"id": "L2", "status": "PENDING", "version": 1},
		}, "")
	})
	mux.HandleFunc("/api/assigned", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]interface{}{
			{"id": "L2", "status": "PENDING", "version": 1},
			{"id": "L3", "status": "APPROVED", "version": 4},
		}, "")
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerActorID) == "" {
			http.Error(w, "no actor", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, f)
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("ftp://x", "S", time.Second, nil)
	assert.Error(t, err)
	_, err = NewClient("http://x", "", time.Second, nil)
	assert.Error(t, err)

	c, err := NewClient("https://letters.example.edu/base/", "S", time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://letters.example.edu/base/ws", c.websocketURL())
}

func TestClient_FetchLetter(t *testing.T) {
	srv := newTestAPI(t, nil)
	c, err := NewClient(srv.URL, "S", time.Second, nil)
	require.NoError(t, err)

	snap, err := c.FetchLetter(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, notify.Snapshot{LetterID: "L1", Status: "APPROVED", Version: 3}, *snap)

	_, err = c.FetchLetter(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "letter not found")

	other, err := NewClient(srv.URL, "X", time.Second, nil)
	require.NoError(t, err)
	_, err = other.FetchLetter(context.Background(), "L1")
	assert.Error(t, err)
}

func TestClient_TrackedDeduplicates(t *testing.T) {
	srv := newTestAPI(t, nil)
	c, err := NewClient(srv.URL, "S", time.Second, nil)
	require.NoError(t, err)

	snaps, err := c.Tracked(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.LetterID)
	}
	assert.Equal(t, []string{"L1", "L2", "L3"}, ids)
}

func TestClient_Subscribe(t *testing.T) {
	evt := event.NewEvent(event.TypeLetterAdvanced, "L1", "PENDING", "M", 2, time.Now())
	good, err := json.Marshal(notify.Message{Kind: notify.MessageKindLetterEvent, Event: evt})
	require.NoError(t, err)
	other, err := json.Marshal(notify.Message{Kind: "presence"})
	require.NoError(t, err)

	srv := newTestAPI(t, [][]byte{[]byte("not json"), other, good})
	c, err := NewClient(srv.URL, "S", time.Second, nil)
	require.NoError(t, err)

	var got []*event.Event
	err = c.Subscribe(context.Background(), func(e *event.Event) { got = append(got, e) })
	require.Error(t, err, "server close is reported so the caller reconnects")

	require.Len(t, got, 1)
	assert.Equal(t, "L1", got[0].LetterID)
	assert.Equal(t, int64(2), got[0].Version)
}

func TestClient_SubscribeCancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, err := NewClient(srv.URL, "S", time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, func(*event.Event) {}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
