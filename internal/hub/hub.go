// Package hub implements the relay core: the device registry, the
// session map, and the routing rules that move typed messages between
// device and controller connections. The hub never talks to sockets
// directly; everything goes through the transport bus.
package hub

import (
	"log/slog"
	"sync"

	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
	"github.com/ercoshn4-droid/vnc-server/internal/transport"
)

// controllersGroup is the topic group every controller joins.
const controllersGroup = "controllers"

// deviceGroup names the topic group for one device identity.
func deviceGroup(deviceID string) string {
	return "device." + deviceID
}

type role int

const (
	roleDevice role = iota + 1
	roleController
)

// Hub owns the registry and session state and reconciles it against
// connection lifecycle events. It implements transport.Receiver.
type Hub struct {
	bus      *transport.Bus
	registry *Registry
	sessions *Sessions

	mu    sync.Mutex
	roles map[transport.Handle]role
}

// New returns a Hub routing through bus.
func New(bus *transport.Bus) *Hub {
	return &Hub{
		bus:      bus,
		registry: NewRegistry(),
		sessions: NewSessions(),
		roles:    make(map[transport.Handle]role),
	}
}

// Registry exposes the device registry (shared with the HTTP facade).
func (h *Hub) Registry() *Registry { return h.registry }

// Sessions exposes the session map.
func (h *Hub) Sessions() *Sessions { return h.sessions }

// setRole records a connection's declared role. A connection never
// returns to undeclared; re-declarations simply overwrite.
func (h *Hub) setRole(c transport.Handle, r role) {
	h.mu.Lock()
	h.roles[c] = r
	h.mu.Unlock()
}

// Closed reconciles state after a connection has been detached from the
// bus. The registry record (if any) is retained and marked offline, and
// controllers are notified only when the handle matched a device record.
// Sessions are deliberately left alone: a stale session persists until
// the next start_vnc replaces it.
func (h *Hub) Closed(c transport.Handle) {
	h.mu.Lock()
	r, declared := h.roles[c]
	delete(h.roles, c)
	h.mu.Unlock()

	d := h.registry.MarkOffline(c)
	if d == nil {
		if declared && r == roleController {
			slog.Info("controller disconnected", "handle", c)
		}
		return
	}

	slog.Info("device disconnected", "device_id", d.ID, "handle", c)
	h.bus.Publish(controllersGroup, protocol.Message{
		Type:     protocol.TypeDeviceDisconnected,
		DeviceID: d.ID,
	})
}

// announceDevice broadcasts a device_connected notification to all
// controllers, carrying the attributes the registration supplied. It
// must be called only after the registry record is committed.
func (h *Hub) announceDevice(id string, attrs DeviceAttrs) {
	h.bus.Publish(controllersGroup, protocol.Message{
		Type:           protocol.TypeDeviceConnected,
		DeviceID:       id,
		DeviceName:     attrs.Name,
		AndroidVersion: attrs.AndroidVersion,
		IPAddress:      attrs.IPAddress,
	})
}

// RegisterDevice registers or updates a device record and then notifies
// controllers. The broadcast happens strictly after the record commit,
// so a controller acting on the notification observes the new record.
// Used by both the in-band role declaration (conn set) and the HTTP
// registration endpoint (conn empty).
func (h *Hub) RegisterDevice(id string, attrs DeviceAttrs, conn transport.Handle) error {
	if _, err := h.registry.RegisterOrUpdate(id, attrs, conn); err != nil {
		return err
	}
	slog.Info("device registered", "device_id", id, "name", attrs.Name, "handle", conn)
	h.announceDevice(id, attrs)
	return nil
}

// SendCommand publishes a command to a device's topic group.
// replyTo names the controller connection replies should be routed to;
// it is empty for the fire-and-forget HTTP path. Delivery is not
// acknowledged: a command to an absent device vanishes.
func (h *Hub) SendCommand(deviceID, command, payload string, replyTo transport.Handle) {
	h.bus.Publish(deviceGroup(deviceID), protocol.Message{
		Type:         protocol.TypeDeviceCommand,
		DeviceID:     deviceID,
		Command:      command,
		Payload:      payload,
		ClientSocket: string(replyTo),
	})
}
