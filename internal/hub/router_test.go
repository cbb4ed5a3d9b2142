package hub_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ercoshn4-droid/vnc-server/internal/hub"
	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
	"github.com/ercoshn4-droid/vnc-server/internal/transport"
)

// send marshals msg and feeds it to the hub as if it arrived from h.
func send(t *testing.T, h *hub.Hub, from transport.Handle, msg protocol.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	h.Receive(from, data)
}

// recv reads one message from a connection's outbound queue.
func recv(t *testing.T, ch <-chan []byte) protocol.Message {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("connection detached")
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshaling outbound message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return protocol.Message{}
}

// expectNone asserts nothing is queued for the connection.
func expectNone(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case data, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message: %s", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// newHub returns a hub over a fresh in-memory bus.
func newHub() (*hub.Hub, *transport.Bus) {
	bus := transport.NewBus()
	return hub.New(bus), bus
}

// ---------------------------------------------------------------------------
// Role declarations
// ---------------------------------------------------------------------------

func TestRegisterClientReceivesSnapshot(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")

	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeRegisterClient})

	msg := recv(t, ctrl)
	if msg.Type != protocol.TypeDeviceList {
		t.Fatalf("expected device_list, got %s", msg.Type)
	}
	if len(msg.Devices) != 0 {
		t.Fatalf("expected empty registry, got %d devices", len(msg.Devices))
	}
}

func TestRegisterDeviceNotifiesControllers(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeRegisterClient})
	recv(t, ctrl) // device_list

	dev := bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{
		Type:           protocol.TypeRegisterDevice,
		DeviceID:       "d1",
		DeviceName:     "Pixel",
		AndroidVersion: "14",
		IPAddress:      "10.0.0.5",
	})

	msg := recv(t, ctrl)
	if msg.Type != protocol.TypeDeviceConnected {
		t.Fatalf("expected device_connected, got %s", msg.Type)
	}
	if msg.DeviceID != "d1" || msg.DeviceName != "Pixel" || msg.AndroidVersion != "14" {
		t.Fatalf("broadcast missing registration attributes: %+v", msg)
	}

	// The device itself gets nothing back.
	expectNone(t, dev)

	// The record is committed before the broadcast is observable.
	d, err := h.Registry().Get("d1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Online || d.Conn != "dev-1" {
		t.Fatalf("record not committed: %+v", d)
	}
}

func TestRegisterDeviceWithoutID(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeRegisterClient})
	recv(t, ctrl)

	bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceName: "anon"})

	// Dropped: no broadcast, no registry entry.
	expectNone(t, ctrl)
	if h.Registry().Count() != 0 {
		t.Fatal("registration without device_id must not create a record")
	}
}

// ---------------------------------------------------------------------------
// Sessions and frame routing
// ---------------------------------------------------------------------------

func TestStartVNCInstructsDevice(t *testing.T) {
	h, bus := newHub()
	dev := bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})

	bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeStartVNC, DeviceID: "d1"})

	msg := recv(t, dev)
	if msg.Type != protocol.TypeStartCapture {
		t.Fatalf("expected start_capture, got %s", msg.Type)
	}
	if msg.DeviceID != "d1" {
		t.Fatalf("wrong device: %s", msg.DeviceID)
	}
	if msg.ClientSocket != "ctrl-1" {
		t.Fatalf("capture instruction must carry the controller handle, got %q", msg.ClientSocket)
	}
}

func TestFrameRoutedToCurrentController(t *testing.T) {
	h, bus := newHub()
	bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})

	c1 := bus.Attach("ctrl-1")
	c2 := bus.Attach("ctrl-2")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeStartVNC, DeviceID: "d1"})
	send(t, h, "ctrl-2", protocol.Message{Type: protocol.TypeStartVNC, DeviceID: "d1"})

	if h.Sessions().Count() != 1 {
		t.Fatalf("expected one session after replacement, got %d", h.Sessions().Count())
	}

	send(t, h, "dev-1", protocol.Message{
		Type:      protocol.TypeScreenUpdate,
		DeviceID:  "d1",
		ImageData: "frame-bytes",
		Timestamp: 42,
	})

	msg := recv(t, c2)
	if msg.Type != protocol.TypeScreenData {
		t.Fatalf("expected screen_data, got %s", msg.Type)
	}
	if msg.Image != "frame-bytes" {
		t.Fatalf("frame payload lost: %q", msg.Image)
	}
	if msg.Timestamp != 42 {
		t.Fatalf("frame must keep the device timestamp, got %d", msg.Timestamp)
	}

	// The replaced controller never sees the frame.
	expectNone(t, c1)
}

func TestFrameWithoutSessionDropped(t *testing.T) {
	h, bus := newHub()
	dev := bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})

	send(t, h, "dev-1", protocol.Message{
		Type:      protocol.TypeScreenUpdate,
		DeviceID:  "d1",
		ImageData: "frame",
	})
	expectNone(t, dev)
}

// ---------------------------------------------------------------------------
// Input events and commands
// ---------------------------------------------------------------------------

func TestVNCInputRetimestamped(t *testing.T) {
	h, bus := newHub()
	dev := bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})

	before := time.Now().UnixMilli()
	send(t, h, "ctrl-1", protocol.Message{
		Type:      protocol.TypeVNCInput,
		DeviceID:  "d1",
		Event:     json.RawMessage(`{"action":"tap","x":10,"y":20}`),
		Timestamp: 1, // sender's clock, must be discarded
	})

	msg := recv(t, dev)
	if msg.Type != protocol.TypeVNCEvent {
		t.Fatalf("expected vnc_event, got %s", msg.Type)
	}
	if msg.Timestamp < before {
		t.Fatalf("expected hub-assigned timestamp, got %d", msg.Timestamp)
	}
	if string(msg.Event) != `{"action":"tap","x":10,"y":20}` {
		t.Fatalf("event payload altered: %s", msg.Event)
	}
}

func TestDeviceCommandCarriesReplyHandle(t *testing.T) {
	h, bus := newHub()
	dev := bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})

	send(t, h, "ctrl-1", protocol.Message{
		Type:     protocol.TypeDeviceCommand,
		DeviceID: "d1",
		Command:  "get_sms",
		Payload:  "inbox",
	})

	msg := recv(t, dev)
	if msg.Type != protocol.TypeDeviceCommand {
		t.Fatalf("expected device_command, got %s", msg.Type)
	}
	if msg.Command != "get_sms" || msg.Payload != "inbox" {
		t.Fatalf("command body altered: %+v", msg)
	}
	if msg.ClientSocket != "ctrl-1" {
		t.Fatalf("command must carry the issuing handle, got %q", msg.ClientSocket)
	}
}

func TestBulkReplyAddressedByClientSocket(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")
	other := bus.Attach("ctrl-2")

	send(t, h, "dev-1", protocol.Message{
		Type:         protocol.TypeSMSData,
		DeviceID:     "d1",
		ClientSocket: "ctrl-1",
		Data:         json.RawMessage(`[{"from":"+100","body":"hi"}]`),
	})

	msg := recv(t, ctrl)
	if msg.Type != protocol.TypeSMSData {
		t.Fatalf("expected sms_data, got %s", msg.Type)
	}
	if string(msg.Data) != `[{"from":"+100","body":"hi"}]` {
		t.Fatalf("payload altered: %s", msg.Data)
	}
	expectNone(t, other)
}

func TestBulkReplyWithoutClientSocketDropped(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeRegisterClient})
	recv(t, ctrl)

	// No client_socket: dropped with no fallback lookup.
	send(t, h, "dev-1", protocol.Message{
		Type:     protocol.TypeCommandResponse,
		DeviceID: "d1",
		Result:   "ok",
	})
	expectNone(t, ctrl)
}

// ---------------------------------------------------------------------------
// Liveness and garbage
// ---------------------------------------------------------------------------

func TestPingPong(t *testing.T) {
	h, bus := newHub()
	dev := bus.Attach("dev-1")

	send(t, h, "dev-1", protocol.Message{Type: protocol.TypePing})

	msg := recv(t, dev)
	if msg.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %s", msg.Type)
	}
	if msg.Timestamp == 0 {
		t.Fatal("pong missing timestamp")
	}
	if h.Registry().Count() != 0 || h.Sessions().Count() != 0 {
		t.Fatal("ping must not change state")
	}
}

func TestGarbageDoesNotCrash(t *testing.T) {
	h, bus := newHub()
	conn := bus.Attach("conn-1")

	h.Receive("conn-1", []byte("not json at all"))
	h.Receive("conn-1", []byte(`{"type":"no_such_type"}`))
	h.Receive("conn-1", []byte(`{"type":"screen_update"}`)) // missing device_id
	h.Receive("conn-1", []byte(`{}`))

	expectNone(t, conn)
}

// ---------------------------------------------------------------------------
// Disconnection
// ---------------------------------------------------------------------------

func TestDeviceDisconnectNotifiesControllers(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeRegisterClient})
	recv(t, ctrl)

	bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})
	recv(t, ctrl) // device_connected

	bus.Detach("dev-1")
	h.Closed("dev-1")

	msg := recv(t, ctrl)
	if msg.Type != protocol.TypeDeviceDisconnected {
		t.Fatalf("expected device_disconnected, got %s", msg.Type)
	}
	if msg.DeviceID != "d1" {
		t.Fatalf("wrong device: %s", msg.DeviceID)
	}

	d, err := h.Registry().Get("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Online {
		t.Fatal("record still online after disconnect")
	}
}

func TestControllerDisconnectIsQuiet(t *testing.T) {
	h, bus := newHub()
	ctrl := bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeRegisterClient})
	recv(t, ctrl)

	other := bus.Attach("ctrl-2")
	send(t, h, "ctrl-2", protocol.Message{Type: protocol.TypeRegisterClient})
	recv(t, other)

	bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})
	recv(t, ctrl)
	recv(t, other)

	bus.Detach("ctrl-1")
	h.Closed("ctrl-1")

	// No broadcast, registry untouched.
	expectNone(t, other)
	d, _ := h.Registry().Get("d1")
	if !d.Online {
		t.Fatal("controller disconnect must not touch the registry")
	}
}

func TestSessionSurvivesDeviceDisconnect(t *testing.T) {
	h, bus := newHub()
	bus.Attach("dev-1")
	send(t, h, "dev-1", protocol.Message{Type: protocol.TypeRegisterDevice, DeviceID: "d1"})

	bus.Attach("ctrl-1")
	send(t, h, "ctrl-1", protocol.Message{Type: protocol.TypeStartVNC, DeviceID: "d1"})

	bus.Detach("dev-1")
	h.Closed("dev-1")

	// Stale session persists until the next start_vnc replaces it.
	if _, ok := h.Sessions().Lookup("d1"); !ok {
		t.Fatal("session cleanup on device disconnect is not automatic")
	}

	send(t, h, "ctrl-2", protocol.Message{Type: protocol.TypeStartVNC, DeviceID: "d1"})
	sess, _ := h.Sessions().Lookup("d1")
	if sess.Controller != "ctrl-2" {
		t.Fatalf("stale session not replaced: %+v", sess)
	}
}
