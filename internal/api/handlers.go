package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ascinocco/device-management/internal/device"
	"github.com/Ascinocco/device-management/internal/projection"
)

// Handlers holds the application services the HTTP layer delegates to.
type Handlers struct {
	devices  *device.Service
	pool     *pgxpool.Pool
	readRepo *projection.ReadRepository
}

func NewHandlers(devices *device.Service, pool *pgxpool.Pool, readRepo *projection.ReadRepository) *Handlers {
	return &Handlers{devices: devices, pool: pool, readRepo: readRepo}
}

type createDeviceBody struct {
	MACAddress string `json:"mac_address" binding:"required"`
}

type changeStatusBody struct {
	Reason          string `json:"reason" binding:"required"`
	ExpectedVersion int    `json:"expected_version" binding:"required,min=1"`
}

type deviceData struct {
	ID         string `json:"id"`
	MACAddress string `json:"mac_address"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	Version    int    `json:"version"`
}

func toDeviceData(v device.View) deviceData {
	return deviceData{
		ID:         v.ID.String(),
		MACAddress: v.MACAddress,
		Status:     string(v.Status),
		CreatedAt:  v.CreatedAt.Format(timeFormat),
		UpdatedAt:  v.UpdatedAt.Format(timeFormat),
		Version:    v.Version,
	}
}

const timeFormat = "2006-01-02T15:04:05.999999Z07:00"

type pageMeta struct {
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	Total   int      `json:"total"`
	HasNext bool     `json:"has_next"`
	OrderBy []string `json:"order_by"`
}

func (h *Handlers) CreateDevice(c *gin.Context) {
	var body createDeviceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	result, err := h.devices.Create(c.Request.Context(), requestContext(c), body.MACAddress)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": toDeviceData(result)})
}

func (h *Handlers) GetDevice(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid device id"})
		return
	}

	result, err := h.devices.Get(c.Request.Context(), requestContext(c), deviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toDeviceData(result)})
}

func (h *Handlers) ListDevices(c *gin.Context) {
	limit, offset := parsePagination(c)

	result, err := h.devices.List(c.Request.Context(), requestContext(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	data := make([]deviceData, 0, len(result.Data))
	for _, v := range result.Data {
		data = append(data, toDeviceData(v))
	}
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"page": pageMeta{
			Limit:   result.Page.Limit,
			Offset:  result.Page.Offset,
			Total:   result.Page.Total,
			HasNext: result.Page.HasNext,
			OrderBy: result.Page.OrderBy,
		},
	})
}

type projectedDeviceData struct {
	ID         string  `json:"id"`
	MACAddress string  `json:"mac_address"`
	Status     string  `json:"status"`
	OwnerEmail *string `json:"owner_email"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	Version    int     `json:"version"`
}

// ListProjectedDevices serves from device_read_model — the
// eventually-consistent view the worker maintains — rather than the
// authoritative devices table.
func (h *Handlers) ListProjectedDevices(c *gin.Context) {
	limit, offset := parsePagination(c)
	rc := requestContext(c)

	tx, err := h.pool.Begin(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "could not start transaction"})
		return
	}
	defer tx.Rollback(c.Request.Context())

	total, err := h.readRepo.CountByTenant(c.Request.Context(), tx, rc.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "could not count devices"})
		return
	}
	rows, err := h.readRepo.ListByTenant(c.Request.Context(), tx, rc.TenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "could not list devices"})
		return
	}

	data := make([]projectedDeviceData, 0, len(rows))
	for _, m := range rows {
		data = append(data, projectedDeviceData{
			ID:         m.ID.String(),
			MACAddress: m.MACAddress,
			Status:     m.Status,
			OwnerEmail: m.OwnerEmail,
			CreatedAt:  m.CreatedAt.Format(timeFormat),
			UpdatedAt:  m.UpdatedAt.Format(timeFormat),
			Version:    m.Version,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"page": pageMeta{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasNext: offset+len(data) < total,
			OrderBy: []string{"created_at", "id"},
		},
	})
}

func (h *Handlers) RetireDevice(c *gin.Context) {
	deviceID, body, ok := h.parseChangeStatusRequest(c)
	if !ok {
		return
	}
	result, err := h.devices.Retire(c.Request.Context(), requestContext(c), deviceID, body.Reason, body.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toDeviceData(result)})
}

func (h *Handlers) ActivateDevice(c *gin.Context) {
	deviceID, body, ok := h.parseChangeStatusRequest(c)
	if !ok {
		return
	}
	result, err := h.devices.Activate(c.Request.Context(), requestContext(c), deviceID, body.Reason, body.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toDeviceData(result)})
}

func (h *Handlers) parseChangeStatusRequest(c *gin.Context) (uuid.UUID, changeStatusBody, bool) {
	deviceID, err := uuid.Parse(c.Param("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid device id"})
		return uuid.UUID{}, changeStatusBody{}, false
	}

	var body changeStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return uuid.UUID{}, changeStatusBody{}, false
	}
	return deviceID, body, true
}

func parsePagination(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 1 && parsed <= 1000 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
