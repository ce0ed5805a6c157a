package feed

import (
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nftmarket/internal/event"
	"nftmarket/internal/infra"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	metrics := &infra.Metrics{}
	hub := NewHub(8, metrics)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.Len() == 1 })
	if metrics.Snapshot().ActiveSubscribers != 1 {
		t.Errorf("expected 1 active subscriber")
	}

	ev := &event.ItemListed{
		Seller:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Collection: common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		TokenID:    big.NewInt(7),
		Price:      big.NewInt(5),
	}
	event.Stamp(ev, 1, 42)
	hub.Publish(ev)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var got struct {
		Type  event.Type       `json:"type"`
		Event event.ItemListed `json:"event"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Type != event.TypeItemListed {
		t.Errorf("expected ItemListed, got %s", got.Type)
	}
	if got.Event.Seq != 1 || got.Event.TokenID.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("unexpected event: %+v", got.Event)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.Len() == 0 })
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	metrics := &infra.Metrics{}
	hub := NewHub(1, metrics)

	// No write pump: the buffer is never drained.
	c := &client{send: make(chan []byte, 1)}
	if !hub.add(c) {
		t.Fatal("add failed")
	}

	hub.Publish(&event.ProceedsWithdrawn{Amount: big.NewInt(1)})
	if hub.Len() != 1 {
		t.Fatalf("expected subscriber kept after first event")
	}

	hub.Publish(&event.ProceedsWithdrawn{Amount: big.NewInt(2)})
	if hub.Len() != 0 {
		t.Errorf("expected slow subscriber dropped")
	}
	if metrics.Snapshot().ActiveSubscribers != 0 {
		t.Errorf("expected 0 active subscribers")
	}

	// Buffered message remains readable, then the channel is closed.
	if _, ok := <-c.send; !ok {
		t.Error("expected buffered message")
	}
	if _, ok := <-c.send; ok {
		t.Error("expected closed send channel")
	}
}

func TestHub_CloseRefusesNewSubscribers(t *testing.T) {
	hub := NewHub(1, nil)
	hub.Close()
	if hub.add(&client{send: make(chan []byte, 1)}) {
		t.Error("expected add to fail after Close")
	}
}
