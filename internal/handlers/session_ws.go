// internal/handlers/session_ws.go
package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/multibomb/arena/internal/middleware"
	"github.com/multibomb/arena/internal/server"
	"github.com/multibomb/arena/internal/transport"
	"github.com/sirupsen/logrus"
)

// SessionWSHandler upgrades to a websocket session. Admission is the same as
// for the TCP session port: the remote IP must hold a valid ticket.
func SessionWSHandler(reg *server.Registry, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		t := transport.NewWebSocket(c, r.RemoteAddr)
		pc, err := reg.AcceptConnection(r.Context(), t)
		if err != nil {
			t.SetCloseStatus(closeCode(err), err.Error())
			t.Close()
			middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
			return
		}

		// the connection owns the socket from here; keep the handler alive
		// until it is torn down
		<-pc.Finished()
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, pc.Err())
	}
}
