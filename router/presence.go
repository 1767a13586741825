package router

import (
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"

	"github.com/traPtitech/calQ/router/extension/herror"
)

// GetPresence GET /presence
func (h *Handlers) GetPresence(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"users": h.Presence.GetOnlineUserIDs(),
	})
}

// GetRoomTyping GET /rooms/:roomID/typing
func (h *Handlers) GetRoomTyping(c echo.Context) error {
	roomID, err := uuid.FromString(c.Param("roomID"))
	if err != nil {
		return herror.BadRequest("invalid roomID")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users": h.Typing.Typing(roomID),
	})
}
