package gateway

import (
	"fmt"
	"sync"
	"testing"
)

func TestDeliverRoomConcurrentEviction(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	// One connection with a full buffer: the first delivery that fails to
	// queue evicts and closes it while other deliveries still hold it in
	// their pool snapshot.
	slow := &Client{ID: "slow", send: make(chan []byte, 1)}
	slow.send <- []byte("backlog")
	cm.Subscribe(slow, "ROOM-1")

	healthy := make([]*Client, 0, 100)
	for i := 0; i < 100; i++ {
		c := &Client{ID: fmt.Sprintf("c%d", i), send: make(chan []byte, 256)}
		cm.Subscribe(c, "ROOM-1")
		healthy = append(healthy, c)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cm.DeliverRoom("ROOM-1", []byte("frame"))
		}()
	}
	wg.Wait()

	if slow.trySend([]byte("late")) {
		t.Error("closed connection accepted a send")
	}
	if got := cm.RoomOf("slow"); got != "" {
		t.Errorf("evicted connection still subscribed to %q", got)
	}
	for _, c := range healthy {
		if len(c.send) == 0 {
			t.Errorf("healthy connection %s received no frames", c.ID)
		}
	}
}

func TestClientCloseRacesSends(t *testing.T) {
	c := &Client{ID: "c1", send: make(chan []byte, 4)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.trySend([]byte("x"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.close()
	}()
	wg.Wait()

	// Second close is a no-op, and nothing is queued after close.
	c.close()
	if c.trySend([]byte("x")) {
		t.Error("send accepted after close")
	}
}

func TestSubscribeMovesBetweenRooms(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := &Client{ID: "c1", send: make(chan []byte, 4)}

	cm.Subscribe(c, "ROOM-1")
	cm.Subscribe(c, "ROOM-2")
	if got := cm.RoomOf("c1"); got != "ROOM-2" {
		t.Fatalf("RoomOf = %q, want ROOM-2", got)
	}

	cm.DeliverRoom("ROOM-1", []byte("old"))
	if len(c.send) != 0 {
		t.Error("client still receives frames from its previous room")
	}
	cm.DeliverRoom("ROOM-2", []byte("new"))
	if len(c.send) != 1 {
		t.Error("client missing frame from its current room")
	}

	if got := cm.Unsubscribe(c); got != "ROOM-2" {
		t.Errorf("Unsubscribe = %q, want ROOM-2", got)
	}
	if cm.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", cm.ConnectionCount())
	}
}
