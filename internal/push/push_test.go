package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDispatcherNotify(t *testing.T) {
	var got Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/push", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.URL)
	err := d.Notify(context.Background(), "bob", wire.Message{
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, "bob", got.UserID)
	assert.Equal(t, "c1", got.Payload.ConversationID)
	assert.Equal(t, "hi", got.Payload.Content)
}

func TestHTTPDispatcherErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.URL)
	err := d.Notify(context.Background(), "bob", wire.Message{ConversationID: "c1"})
	assert.Error(t, err)
}

func TestHTTPDispatcherUnreachable(t *testing.T) {
	d := NewHTTPDispatcher("http://127.0.0.1:1")
	err := d.Notify(context.Background(), "bob", wire.Message{ConversationID: "c1"})
	assert.Error(t, err)
}

func TestLogDispatcher(t *testing.T) {
	err := LogDispatcher{}.Notify(context.Background(), "bob", wire.Message{ConversationID: "c1"})
	assert.NoError(t, err)
}
