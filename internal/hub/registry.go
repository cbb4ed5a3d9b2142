package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
	"github.com/ercoshn4-droid/vnc-server/internal/transport"
)

var (
	// ErrMissingDeviceID is returned when a registration carries no
	// device identifier.
	ErrMissingDeviceID = errors.New("device_id is required")
	// ErrNotFound is returned by Get for an unknown device identifier.
	ErrNotFound = errors.New("device not found")
)

// DeviceAttrs are the caller-supplied attributes of a registration.
type DeviceAttrs struct {
	Name           string
	AndroidVersion string
	IPAddress      string
}

// Device is one registry record. Conn is a weak reference to the
// device's current connection: it is overwritten on re-registration and
// goes stale when the connection closes (MarkOffline clears Online but
// keeps the record).
type Device struct {
	ID             string
	Name           string
	AndroidVersion string
	IPAddress      string
	Conn           transport.Handle
	LastSeen       time.Time
	Online         bool
}

// Registry is the in-memory device registry. Records are kept in
// insertion order and never deleted; offline devices stay visible.
// All state is lost on restart.
type Registry struct {
	mu    sync.Mutex
	byID  map[string]*Device
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Device)}
}

// RegisterOrUpdate inserts or overwrites the record for id, marking it
// online with lastSeen now. The connection reference is overwritten with
// h even when h is empty (out-of-band registration attaches no
// connection). Returns a copy of the committed record.
//
// This is a pure state mutation: the caller is responsible for the
// device_connected broadcast, which must happen only after the record
// is committed.
func (r *Registry) RegisterOrUpdate(id string, attrs DeviceAttrs, h transport.Handle) (Device, error) {
	if id == "" {
		return Device{}, ErrMissingDeviceID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		d = &Device{ID: id}
		r.byID[id] = d
		r.order = append(r.order, id)
	}
	d.Name = attrs.Name
	d.AndroidVersion = attrs.AndroidVersion
	d.IPAddress = attrs.IPAddress
	d.Conn = h
	d.LastSeen = time.Now()
	d.Online = true
	return *d, nil
}

// MarkOffline finds the record whose connection reference equals h,
// clears its Online flag and connection reference, and returns a copy.
// If no record references h (the closing connection was a controller,
// or was never a device) it returns nil. Records are scanned in
// insertion order and only the first match is affected.
func (r *Registry) MarkOffline(h transport.Handle) *Device {
	if h == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		d := r.byID[id]
		if d.Conn == h {
			d.Online = false
			d.Conn = ""
			out := *d
			return &out
		}
	}
	return nil
}

// Get returns a copy of the record for id, or ErrNotFound.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return *d, nil
}

// List returns a snapshot of all records, online and offline, in
// insertion order.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Count returns the number of registry records.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Info converts a record to its wire representation.
func (d Device) Info() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		DeviceID:       d.ID,
		DeviceName:     d.Name,
		AndroidVersion: d.AndroidVersion,
		IPAddress:      d.IPAddress,
		Online:         d.Online,
		LastSeen:       d.LastSeen.UnixMilli(),
	}
}
