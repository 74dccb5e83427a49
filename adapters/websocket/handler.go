package websocket

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mi6Fsoc/reroom-prototype/domain"
)

// SessionIDKey must match the key the token middleware stores the session
// id under.
const SessionIDKey = "session_id"

// Handler upgrades an authenticated request on "/ws" and sends a snapshot of
// the session. The client is registered before the snapshot is taken, so
// every later event reaches it. Events may arrive ahead of the snapshot;
// both carry a seq and clients apply only events newer than the snapshot.
func (s *Server) Handler(c echo.Context) error {
	sessionID, _ := c.Get(SessionIDKey).(string)
	if _, err := s.svc.View(sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, sessionID, s.handleIntent)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	client.Run()

	view, err := s.svc.View(sessionID)
	if err != nil {
		client.SendReply(&Reply{Type: "error", Error: errorResponse(err)})
		client.Close()
		return nil
	}
	client.SendReply(&Reply{Type: "snapshot", Seq: view.Seq, Payload: view})

	<-client.Context().Done()

	return nil
}
