package transport

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// RegisterConnectHandler adds GET /ws to mux. Devices and controllers
// connect here; each connection is attached to the bus under a fresh
// opaque handle and its inbound text frames are forwarded to rx in
// arrival order. On close the connection is detached first, then rx is
// told, so reconciliation never observes a still-addressable handle.
func RegisterConnectHandler(mux *http.ServeMux, bus *Bus, rx Receiver, readLimit int64) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // hub accepts any origin
		})
		if err != nil {
			return
		}
		defer ws.CloseNow()

		if readLimit > 0 {
			ws.SetReadLimit(readLimit)
		}

		h := Handle(uuid.NewString())
		out := bus.Attach(h)
		defer func() {
			bus.Detach(h)
			rx.Closed(h)
		}()

		slog.Info("connection opened", "handle", h, "remote", r.RemoteAddr)

		ctx := r.Context()

		// Write loop: drain the bus queue to the socket.
		go func() {
			for {
				select {
				case data, ok := <-out:
					if !ok {
						return
					}
					if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// Read loop: deliver inbound frames until the peer goes away.
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				slog.Info("connection closed", "handle", h, "err", err)
				return
			}
			rx.Receive(h, data)
		}
	})
}
