package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fablehq/fable-relay/internal/session"
)

// upgrader accepts any origin: admission is enforced by the bearer
// token, not the Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleSession upgrades the connection and hands it to the session
// loop. Handshake validation runs after the upgrade so rejections reach
// the client as a proper close code instead of a bare HTTP error.
func (s *Server) handleSession(c echo.Context) error {
	req := session.ConnectRequest{
		Authorization: c.Request().Header.Get("Authorization"),
		SaveID:        c.QueryParam("save_id"),
		ResumeFrom:    c.QueryParam("resume_from"),
		DeviceID:      c.QueryParam("device_id"),
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	s.sessions.Add(1)
	defer s.sessions.Done()
	session.Run(s.base, conn, req, s.deps)
	return nil
}
