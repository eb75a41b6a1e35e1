package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kinetic-rehab/reach.report/internal/monitoring"
)

// handleFrames upgrades the landmark producer connection and pumps its
// messages into the worker. PROCESS messages are shed under backpressure;
// control messages embedded in the stream are applied in arrival order
// relative to the frames around them.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: frames upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	monitoring.Logf("api: frame producer connected from %s", r.RemoteAddr)

	for {
		var msg Envelope
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				monitoring.Logf("api: frame producer read error: %v", err)
			}
			return
		}

		if msg.Type == TypeProcess {
			s.w.Submit(&msg.Frame)
			continue
		}

		ctl, err := msg.control()
		if err != nil {
			monitoring.Logf("api: bad inbound message: %v", err)
			continue
		}
		s.w.Control(ctl)
	}
}
