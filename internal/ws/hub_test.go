package ws

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func newTestClient(deviceID string) *Client {
	return &Client{
		conn:     nil, // Not needed for hub tests
		deviceID: deviceID,
		send:     make(chan Message, 256),
		logger:   testLogger(),
	}
}

// TestNewHub verifies that NewHub creates a hub with no clients.
func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger())

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}

	if hub.clients == nil {
		t.Error("hub.clients map is nil")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

// TestRegister verifies that Register adds a client and increments ClientCount.
func TestRegister(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient("dev-1")

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.mu.RLock()
	_, exists := hub.clients[client]
	hub.mu.RUnlock()

	if !exists {
		t.Error("client not found in hub.clients map")
	}
}

// TestUnregister verifies that Unregister removes a client and closes its send channel.
func TestUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient("dev-1")

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	hub.mu.RLock()
	_, exists := hub.clients[client]
	hub.mu.RUnlock()

	if exists {
		t.Error("client still exists in hub.clients map after unregister")
	}

	// Verify channel is closed by attempting to receive.
	_, ok := <-client.send
	if ok {
		t.Error("client.send channel is not closed")
	}
}

// TestUnregisterNotRegistered verifies that Unregister on a client not in the hub does nothing.
func TestUnregisterNotRegistered(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient("dev-1")

	// Unregister without registering first should not panic.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Unregister() panicked: %v", r)
		}
	}()

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	// Channel should not be closed if client was never registered.
	select {
	case _, ok := <-client.send:
		if !ok {
			t.Error("channel closed for unregistered client")
		}
	default:
		// Channel is empty and not closed, as expected.
	}
}

// TestBroadcast verifies that Broadcast delivers a message to all registered clients.
func TestBroadcast(t *testing.T) {
	hub := NewHub(testLogger())

	client1 := newTestClient("dev-1")
	client2 := newTestClient("dev-2")
	client3 := newTestClient("dev-3")

	hub.Register(client1)
	hub.Register(client2)
	hub.Register(client3)

	msg := Message{
		Type:      MessageDeviceRegistered,
		Timestamp: time.Now(),
		Data:      DeviceStatusData{DeviceID: "dev-new", Status: "online"},
	}

	hub.Broadcast(msg)

	// Verify all clients received the message.
	clients := []*Client{client1, client2, client3}
	for i, client := range clients {
		select {
		case received := <-client.send:
			if received.Type != MessageDeviceRegistered {
				t.Errorf("client %d received Type = %v, want %v", i+1, received.Type, MessageDeviceRegistered)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d did not receive message", i+1)
		}
	}
}

// TestBroadcastEmptyHub verifies that Broadcast to empty hub does nothing.
func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(testLogger())

	msg := Message{
		Type:      MessageAlertRaised,
		Timestamp: time.Now(),
		Data:      AlertData{Type: "failure_rate", FirmwareVersion: "2.0.0"},
	}

	// Should not panic.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Broadcast() to empty hub panicked: %v", r)
		}
	}()

	hub.Broadcast(msg)
}

// TestBroadcastDropsMessagesWhenBufferFull verifies that Broadcast drops messages when client send buffer is full.
func TestBroadcastDropsMessagesWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient("dev-1")

	hub.Register(client)

	// Fill the client's send buffer (capacity is 256).
	for i := 0; i < 256; i++ {
		client.send <- Message{
			Type:      MessageShadowUpdated,
			Timestamp: time.Now(),
		}
	}

	// Verify buffer is full.
	if len(client.send) != 256 {
		t.Fatalf("client.send buffer length = %d, want 256", len(client.send))
	}

	// Broadcast one more message -- should be dropped since buffer is full.
	msg := Message{
		Type:      MessageRolloutRollback,
		Timestamp: time.Now(),
		Data:      RollbackData{FromVersion: "2.0.0", ToVersion: "1.9.0"},
	}

	hub.Broadcast(msg)

	// The buffer should still be at capacity, and the new message should not be there.
	if len(client.send) != 256 {
		t.Errorf("client.send buffer length = %d, want 256 (message should have been dropped)", len(client.send))
	}

	// Drain one message and verify it's not the dropped message.
	received := <-client.send
	if received.Type == MessageRolloutRollback {
		t.Error("dropped message was unexpectedly received")
	}
}

// TestConcurrentRegisterUnregisterBroadcast verifies that concurrent operations are safe.
func TestConcurrentRegisterUnregisterBroadcast(t *testing.T) {
	hub := NewHub(testLogger())

	var wg sync.WaitGroup
	numClients := 50
	numBroadcasts := 100

	// Concurrently register and unregister clients.
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client := newTestClient(string(rune('a' + id)))
			hub.Register(client)

			// Drain messages to prevent buffer from filling.
			go func() {
				for range client.send {
					// Discard messages.
				}
			}()

			time.Sleep(10 * time.Millisecond)
			hub.Unregister(client)
		}(i)
	}

	// Concurrently broadcast messages.
	for i := 0; i < numBroadcasts; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			msg := Message{
				Type:      MessageDeviceOffline,
				Timestamp: time.Now(),
				Data:      DeviceStatusData{DeviceID: "dev-concurrent", Status: "offline"},
			}
			hub.Broadcast(msg)
		}(i)
	}

	wg.Wait()

	// After all goroutines complete, hub should be stable.
	finalCount := hub.ClientCount()
	if finalCount < 0 {
		t.Errorf("ClientCount() = %d, should not be negative", finalCount)
	}
}

// TestConcurrentClientCount verifies that ClientCount is safe to call concurrently.
func TestConcurrentClientCount(t *testing.T) {
	hub := NewHub(testLogger())

	var wg sync.WaitGroup
	var countSum int64

	// Register some clients.
	for i := 0; i < 10; i++ {
		hub.Register(newTestClient(string(rune('a' + i))))
	}

	// Concurrently call ClientCount.
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count := hub.ClientCount()
			atomic.AddInt64(&countSum, int64(count))
		}()
	}

	wg.Wait()

	// All calls should have returned the same count (10).
	expectedSum := int64(10 * 100)
	if countSum != expectedSum {
		t.Errorf("sum of all ClientCount() calls = %d, want %d", countSum, expectedSum)
	}
}

// TestBroadcastMessageTypes verifies that different message types can be broadcast.
func TestBroadcastMessageTypes(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient("dev-1")
	hub.Register(client)

	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "device registered",
			msg: Message{
				Type:      MessageDeviceRegistered,
				Timestamp: time.Now(),
				Data:      DeviceStatusData{DeviceID: "dev-9", Status: "online"},
			},
		},
		{
			name: "release published",
			msg: Message{
				Type:      MessageReleasePublished,
				Timestamp: time.Now(),
				Data:      ReleasePublishedData{Version: "2.1.0", RolloutGroup: "blue", TargetPercent: 10},
			},
		},
		{
			name: "percent changed",
			msg: Message{
				Type:      MessagePercentChanged,
				Timestamp: time.Now(),
				Data:      PercentChangedData{Version: "2.1.0", TargetPercent: 50},
			},
		},
		{
			name: "shadow updated",
			msg: Message{
				Type:      MessageShadowUpdated,
				Timestamp: time.Now(),
				Data:      ShadowUpdatedData{DeviceID: "dev-9", Side: "desired", InSync: false},
			},
		},
		{
			name: "alert raised",
			msg: Message{
				Type:      MessageAlertRaised,
				Timestamp: time.Now(),
				Data:      AlertData{Type: "failure_rate", Severity: "critical", FirmwareVersion: "2.1.0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub.Broadcast(tt.msg)

			select {
			case received := <-client.send:
				if received.Type != tt.msg.Type {
					t.Errorf("received Type = %v, want %v", received.Type, tt.msg.Type)
				}
			case <-time.After(100 * time.Millisecond):
				t.Error("client did not receive message")
			}
		})
	}
}

// TestUnregisterTwice verifies that unregistering the same client twice is safe.
func TestUnregisterTwice(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient("dev-1")

	hub.Register(client)
	hub.Unregister(client)

	// Second unregister should not panic or cause issues.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("second Unregister() panicked: %v", r)
		}
	}()

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
