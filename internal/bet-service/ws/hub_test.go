package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/bet-service/ws"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, dst any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(dst); err != nil {
		t.Fatal(err)
	}
}

func TestSubscribeAndBroadcast(t *testing.T) {
	hub := ws.NewHub(func(*http.Request) bool { return true }, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(ws.ClientMsg{Type: "subscribe", MarketID: "m1"}); err != nil {
		t.Fatal(err)
	}
	var ack ws.ClientMsg
	readMsg(t, conn, &ack)
	if ack.Type != "subscribed" || hub.Subscribers("m1") != 1 {
		t.Fatalf("ack = %+v, subscribers = %d", ack, hub.Subscribers("m1"))
	}

	// atualização de outro mercado não chega; a do m1 chega pelo broadcaster local
	hub.Broadcast(ws.MarketUpdate{MarketID: "m2", Type: "pools"})
	payload, _ := json.Marshal(ws.MarketUpdate{MarketID: "m1", Type: "pools", Payload: map[string]int64{"A": 10}})
	if err := (ws.LocalBroadcaster{Hub: hub}).Publish(context.Background(), "", payload); err != nil {
		t.Fatal(err)
	}

	var upd ws.MarketUpdate
	readMsg(t, conn, &upd)
	if upd.MarketID != "m1" || upd.Type != "pools" {
		t.Fatalf("update = %+v", upd)
	}

	if err := conn.WriteJSON(ws.ClientMsg{Type: "unsubscribe", MarketID: "m1"}); err != nil {
		t.Fatal(err)
	}
	readMsg(t, conn, &ack)
	if ack.Type != "unsubscribed" || hub.Subscribers("m1") != 0 {
		t.Fatalf("ack = %+v, subscribers = %d", ack, hub.Subscribers("m1"))
	}
}

func TestPing(t *testing.T) {
	hub := ws.NewHub(func(*http.Request) bool { return true }, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.WriteJSON(ws.ClientMsg{Type: "ping"})
	var pong ws.ClientMsg
	readMsg(t, conn, &pong)
	if pong.Type != "pong" {
		t.Fatalf("got %+v", pong)
	}
}
