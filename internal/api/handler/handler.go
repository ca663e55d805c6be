package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go-arbor/internal/api/dto"
	"go-arbor/internal/domain"
	"go-arbor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultJobListLimit = 50

type TreeHandler struct {
	service service.TreeService
}

func NewTreeHandler(svc service.TreeService) *TreeHandler {
	return &TreeHandler{service: svc}
}

func (h *TreeHandler) SpawnWorker(c *gin.Context) {
	var req dto.SpawnWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.SpawnWorker(c.Request.Context(), domain.NodeID(*req.ID))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.SpawnWorkerResponse{ID: res.ID, PID: res.PID, Pending: res.Pending}
	if res.Parent != domain.NoParent {
		resp.Parent = &res.Parent
	}
	status := http.StatusCreated
	if res.Pending {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

func (h *TreeHandler) RemoveWorker(c *gin.Context) {
	id, ok := nodeID(c)
	if !ok {
		return
	}
	removed, err := h.service.RemoveWorker(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RemoveWorkerResponse{Removed: removed})
}

func (h *TreeHandler) Status(c *gin.Context) {
	id, ok := nodeID(c)
	if !ok {
		return
	}
	alive, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{ID: id, Alive: alive})
}

func (h *TreeHandler) RunJob(c *gin.Context) {
	id, ok := nodeID(c)
	if !ok {
		return
	}
	var req dto.RunJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.RunJob(c.Request.Context(), id, req.Values)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TreeHandler) ListJobs(c *gin.Context) {
	limit := defaultJobListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *TreeHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid job id"})
		return
	}
	job, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *TreeHandler) Topology(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Topology())
}

func (h *TreeHandler) ToggleHeartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
	}
	state := h.service.ToggleHeartbeat(time.Duration(req.IntervalMs) * time.Millisecond)
	c.JSON(http.StatusOK, state)
}

func nodeID(c *gin.Context) (domain.NodeID, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid worker id"})
		return 0, false
	}
	return domain.NodeID(n), true
}

func writeError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), dto.ErrorResponse{Error: err.Error()})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidID), errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSpawnFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrChannelFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
