package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// client serializa as escritas de uma conexão (gorilla não aceita writers concorrentes)
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msgType int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, b)
}

// Hub gerencia conexões WebSocket e assinaturas por mercado
// subs: mapeia marketID para o conjunto de clientes inscritos
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger
	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
// Cada cliente pode se inscrever em vários mercados
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.MarketID == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.MarketID]; !ok {
				h.subs[msg.MarketID] = make(map[*client]struct{})
			}
			h.subs[msg.MarketID][c] = struct{}{}
			h.mu.Unlock()
			h.ack(c, "subscribed", msg.MarketID)
		case "unsubscribe":
			h.remove(msg.MarketID, c)
			h.ack(c, "unsubscribed", msg.MarketID)
		case "ping":
			h.ack(c, "pong", "")
		}
	}
	// Remove o cliente de todas as assinaturas ao desconectar
	h.mu.Lock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) ack(c *client, typ, marketID string) {
	b, _ := json.Marshal(ClientMsg{Type: typ, MarketID: marketID})
	_ = c.write(websocket.TextMessage, b)
}

func (h *Hub) remove(marketID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[marketID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, marketID)
		}
	}
}

// Subscribers devolve quantos clientes acompanham o mercado
func (h *Hub) Subscribers(marketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[marketID])
}

// Broadcast envia a atualização para todos os inscritos no mercado
func (h *Hub) Broadcast(update MarketUpdate) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[update.MarketID]))
	for c := range h.subs[update.MarketID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(update)
	if err != nil {
		h.log.Warn("ws marshal", zap.String("market_id", update.MarketID), zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, b); err != nil {
			h.log.Debug("ws write", zap.String("market_id", update.MarketID), zap.Error(err))
		}
	}
}
