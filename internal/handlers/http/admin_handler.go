package http

import (
	"net/http"
	"time"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/services"
	"proctorsfu/internal/infrastructure/distributed"
	"proctorsfu/internal/infrastructure/monitoring"
	"proctorsfu/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the read-mostly operations API used by the exam
// platform backend: room inspection, session termination and pool state.
type AdminHandler struct {
	rooms     *services.RoomService
	pool      *services.WorkerPool
	routers   *services.RouterRegistry
	producers *services.ProducerRegistry
	health    *monitoring.HealthChecker
	events    *distributed.EventBus // nil when Redis is disabled
	startedAt time.Time
}

func NewAdminHandler(
	rooms *services.RoomService,
	pool *services.WorkerPool,
	routers *services.RouterRegistry,
	producers *services.ProducerRegistry,
	health *monitoring.HealthChecker,
	events *distributed.EventBus,
) *AdminHandler {
	return &AdminHandler{
		rooms:     rooms,
		pool:      pool,
		routers:   routers,
		producers: producers,
		health:    health,
		events:    events,
		startedAt: time.Now(),
	}
}

// SetupRoutes registers the admin API. The auth middleware chain is applied
// by the caller so tests can mount the routes bare.
func (h *AdminHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.POST("/rooms/:id/end", h.EndRoom)
		api.POST("/rooms/:id/state", h.SetRoomState)
		api.GET("/workers", h.ListWorkers)
		api.GET("/routers", h.ListRouters)
	}
}

// SetupHealthRoute registers the unauthenticated liveness endpoint.
func (h *AdminHandler) SetupHealthRoute(router gin.IRouter) {
	router.GET("/health", h.Health)
}

func (h *AdminHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListActive(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *AdminHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":       room,
		"producers":  h.producers.InRoom(roomID),
		"has_router": h.routers.Has(roomID),
	})
}

func (h *AdminHandler) EndRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	room, err := h.rooms.SetState(c.Request.Context(), roomID, domain.RoomStateEnded)
	if err != nil {
		c.Error(err)
		return
	}

	// Tear down media for the ended session. Peer cleanup follows when
	// their signaling connections observe the closed transports.
	h.routers.Close(roomID)

	if h.events != nil {
		// Best effort: the room is already ended locally.
		_ = h.events.PublishSessionEnded(c.Request.Context(), roomID)
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *AdminHandler) SetRoomState(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req struct {
		State domain.RoomState `json:"state" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.State {
	case domain.RoomStateWaiting, domain.RoomStateActive, domain.RoomStatePaused,
		domain.RoomStateEnded, domain.RoomStateInvalidated:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown room state"})
		return
	}

	room, err := h.rooms.SetState(c.Request.Context(), roomID, req.State)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *AdminHandler) ListWorkers(c *gin.Context) {
	workers := h.pool.Workers()
	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"count":   len(workers),
	})
}

func (h *AdminHandler) ListRouters(c *gin.Context) {
	routers := h.routers.Routers()
	c.JSON(http.StatusOK, gin.H{
		"routers": routers,
		"count":   len(routers),
	})
}

func (h *AdminHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status.Status,
		"checks":         status.Checks,
		"uptime":         utils.FormatDuration(time.Since(h.startedAt)),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"workers":        h.pool.Size(),
	})
}
