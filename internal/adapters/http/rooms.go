package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/duetcall/duet/internal/core"
	"github.com/duetcall/duet/internal/domain"
)

// RoomsHandler is the thin CRUD wrapper over the store. It talks to the
// store directly; nothing here round-trips through relay events.
type RoomsHandler struct {
	Store *core.Store
}

func (h *RoomsHandler) Create(c *gin.Context) {
	room := h.Store.CreateRoom()
	c.JSON(http.StatusCreated, room)
}

func (h *RoomsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.ListRooms())
}

func (h *RoomsHandler) Get(c *gin.Context) {
	dto, err := h.Store.GetRoom(domain.RoomID(c.Param("id")))
	if err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, dto)
}
