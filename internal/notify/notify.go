// Package notify pushes the three outbound websocket events spec.md §6
// names (acceptedBill, acceptedCoin, successPayment) to every connected
// client. It is the one place that knows about the wire JSON shape; the
// coordinator only calls the typed methods below.
package notify

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// message is the {event, data} envelope every outbound frame uses, grounded
// on the source's send_to_ws.py, which wraps every push the same way
// regardless of which event fired.
type message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub fans one outbound message out to every currently-connected client,
// dropping clients that fail to keep up rather than blocking the caller —
// a slow or dead websocket peer must never stall a payment completion.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan message
}

// New returns an empty Hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		log:      log.With().Str("component", "notify").Logger(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*websocket.Conn]chan message),
	}
}

// ServeHTTP upgrades an incoming connection and registers it as a
// broadcast target. Clients are write-only from this service's point of
// view; any inbound frame is read and discarded solely to detect
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	out := make(chan message, 16)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()

	go h.writeLoop(conn, out)
	go h.readLoop(conn, out)
}

func (h *Hub) readLoop(conn *websocket.Conn, out chan message) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn, out)
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, out chan message) {
	for msg := range out {
		if err := conn.WriteJSON(msg); err != nil {
			h.remove(conn, out)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn, out chan message) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(out)
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) broadcast(event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.clients {
		select {
		case out <- message{Event: event, Data: data}:
		default:
			h.log.Warn().Msg("client too slow, dropping connection")
			delete(h.clients, conn)
			close(out)
			conn.Close()
		}
	}
}

// AcceptedBill reports one accepted bill and the running collected total.
func (h *Hub) AcceptedBill(billValueKop, collectedKop int64) {
	h.broadcast("acceptedBill", struct {
		BillValue       int64 `json:"bill_value"`
		CollectedAmount int64 `json:"collected_amount"`
	}{billValueKop, collectedKop})
}

// AcceptedCoin reports one accepted coin and the running collected total.
func (h *Hub) AcceptedCoin(coinValueKop, collectedKop int64) {
	h.broadcast("acceptedCoin", struct {
		CoinValue       int64 `json:"coin_value"`
		CollectedAmount int64 `json:"collected_amount"`
	}{coinValueKop, collectedKop})
}

// SuccessPayment reports a completed transaction and the change due.
func (h *Hub) SuccessPayment(collectedKop, changeKop int64) {
	h.broadcast("successPayment", struct {
		CollectedAmount int64 `json:"collected_amount"`
		Change          int64 `json:"change"`
	}{collectedKop, changeKop})
}
