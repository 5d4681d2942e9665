package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// dialHub spins up a websocket endpoint that registers every upgraded
// connection on the hub under conversationID, and dials it.
func dialHub(t *testing.T, h *Hub, conversationID uuid.UUID) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Register(conversationID, conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, func() bool {
		return h.Subscribers(conversationID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return client
}

func TestHub_DeliversToConversationSubscribers(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	conv := uuid.Must(uuid.NewV4())
	client := dialHub(t, h, conv)

	ev := BurnEvent{
		ConversationID: conv,
		MessageID:      uuid.Must(uuid.NewV4()),
		BurnedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, h.MessageBurned(context.Background(), ev))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got BurnEvent
	require.NoError(t, client.ReadJSON(&got))
	require.Equal(t, ev.MessageID, got.MessageID)
	require.Equal(t, ev.ConversationID, got.ConversationID)
	require.True(t, ev.BurnedAt.Equal(got.BurnedAt))
}

func TestHub_DoesNotCrossConversations(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	convA := uuid.Must(uuid.NewV4())
	convB := uuid.Must(uuid.NewV4())
	clientB := dialHub(t, h, convB)

	ev := BurnEvent{ConversationID: convA, MessageID: uuid.Must(uuid.NewV4()), BurnedAt: time.Now().UTC()}
	require.NoError(t, h.MessageBurned(context.Background(), ev))

	require.NoError(t, clientB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var got BurnEvent
	require.Error(t, clientB.ReadJSON(&got), "subscriber of another conversation must stay silent")
}

func TestHub_ReapsClosedConnections(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	conv := uuid.Must(uuid.NewV4())
	client := dialHub(t, h, conv)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return h.Subscribers(conv) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Burning into an empty conversation is a no-op, not an error.
	require.NoError(t, h.MessageBurned(context.Background(), BurnEvent{ConversationID: conv}))
}
