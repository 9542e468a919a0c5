package hub

import "testing"

func TestBroadcastFiltersBySubscription(t *testing.T) {
	h := New()

	lobby := &Client{ID: "lobby", Send: make(chan []byte, 1), Subscription: Subscription{BusinessID: "biz-1"}}
	counter := &Client{ID: "counter", Send: make(chan []byte, 1), Subscription: Subscription{BusinessID: "biz-1", PositionID: "pos-1"}}
	other := &Client{ID: "other", Send: make(chan []byte, 1), Subscription: Subscription{BusinessID: "biz-2"}}
	h.Register(lobby)
	h.Register(counter)
	h.Register(other)

	h.Broadcast([]byte("event"), Subscription{BusinessID: "biz-1", PositionID: "pos-2"})

	if len(lobby.Send) != 1 {
		t.Fatal("lobby display should receive business-wide events")
	}
	if len(counter.Send) != 0 {
		t.Fatal("counter screen should not receive events for another position")
	}
	if len(other.Send) != 0 {
		t.Fatal("other business should not receive the event")
	}
}

func TestBroadcastDropsWhenClientSlow(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("one"), Subscription{})
	h.Broadcast([]byte("two"), Subscription{})

	if len(slow.Send) != 1 {
		t.Fatalf("expected one buffered message, got %d", len(slow.Send))
	}
	if string(<-slow.Send) != "one" {
		t.Fatal("first message should survive, later ones drop")
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	c := &Client{ID: "c1", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)

	if _, open := <-c.Send; open {
		t.Fatal("send channel should be closed after unregister")
	}

	h.Broadcast([]byte("late"), Subscription{})
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","business_id":"biz-1","position_id":"pos-1"}`))
	if !ok || msg.BusinessID != "biz-1" || msg.PositionID != "pos-1" {
		t.Fatalf("unexpected message: %+v ok=%v", msg, ok)
	}

	if _, ok := ParseSubscribe([]byte(`{"action":"ping"}`)); ok {
		t.Fatal("unknown action should be rejected")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("invalid JSON should be rejected")
	}
}
