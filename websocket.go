package agentgate

import (
	"net/http"

	"nhooyr.io/websocket"
)

// WSHandler exposes the gateway over WebSocket. Each accepted socket is
// adapted to a net.Conn carrying binary messages and handed to ServeConn,
// so the framed-JSON protocol runs unchanged on top of it.
func (s *Server) WSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn := websocket.NetConn(r.Context(), c, websocket.MessageBinary)
		s.ServeConn(r.Context(), conn)
	})
}
