package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opensandbox/codespace/internal/collab"
	"github.com/opensandbox/codespace/internal/gateway"
	"github.com/opensandbox/codespace/internal/stream"
	"github.com/opensandbox/codespace/pkg/types"
)

// streamParams reads the room and participant for a stream request. A
// missing participantId gets a generated one.
func streamParams(c echo.Context) (string, string, error) {
	roomID := c.QueryParam("roomId")
	if roomID == "" {
		return "", "", errors.New("roomId query parameter is required")
	}
	participantID := c.QueryParam("participantId")
	if participantID == "" {
		participantID = uuid.NewString()
	}
	return roomID, participantID, nil
}

func (s *Server) collabStream(c echo.Context) error {
	roomID, participantID, err := streamParams(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	sink, err := stream.NewSSESink(c.Response())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	conn, err := s.deps.Broadcaster.Open(roomID, participantID, sink)
	if err != nil {
		return errorJSON(c, openStatus(err), err.Error())
	}
	sink.WriteHeaders()

	// The response is committed; failures end the stream and are only logged.
	if err := conn.Serve(c.Request().Context()); err != nil {
		log.Printf("api: stream %s ended: %v", conn.ID, err)
	}
	return nil
}

func (s *Server) collabWebSocket(c echo.Context) error {
	roomID, participantID, err := streamParams(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	sink, ctx, err := stream.UpgradeWebSocket(c.Request().Context(), c.Response(), c.Request())
	if err != nil {
		// Upgrade has already replied to the client.
		return nil
	}
	defer sink.Close()

	conn, err := s.deps.Broadcaster.Open(roomID, participantID, sink)
	if err != nil {
		log.Printf("api: websocket open room %s: %v", roomID, err)
		return nil
	}
	if err := conn.Serve(ctx); err != nil {
		log.Printf("api: stream %s ended: %v", conn.ID, err)
	}
	return nil
}

func openStatus(err error) int {
	if errors.Is(err, collab.ErrInvalidRoomID) || errors.Is(err, collab.ErrInvalidParticipant) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) submitEvent(c echo.Context) error {
	var req types.EventSubmission
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	ack, err := s.deps.Gateway.Submit(gateway.Submission{
		Type:   gateway.Type(req.Type),
		RoomID: req.RoomID,
		Data:   req.Data,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, types.EventAck{Success: true, Seq: ack.Seq})
	case errors.Is(err, gateway.ErrNotAMember):
		return errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrUnknownType),
		errors.Is(err, gateway.ErrInvalidData),
		errors.Is(err, collab.ErrInvalidRoomID),
		errors.Is(err, collab.ErrInvalidParticipant):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	default:
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listRooms(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Registry.Rooms())
}

func (s *Server) getRoom(c echo.Context) error {
	room, ok := s.deps.Registry.Get(c.Param("id"))
	if !ok {
		return errorJSON(c, http.StatusNotFound, "room not found")
	}
	return c.JSON(http.StatusOK, room.Snapshot())
}
