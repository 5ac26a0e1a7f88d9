package notify

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsToConnectedClient(t *testing.T) {
	hub := New(zerolog.Nop())
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give ServeHTTP's registration goroutines a moment to run before the
	// broadcast, since the dial above only guarantees the handshake.
	time.Sleep(20 * time.Millisecond)

	hub.AcceptedBill(15000, 15000)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got struct {
		Event string `json:"event"`
		Data  struct {
			BillValue       int64 `json:"bill_value"`
			CollectedAmount int64 `json:"collected_amount"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "acceptedBill", got.Event)
	require.Equal(t, int64(15000), got.Data.BillValue)
}
