package api

import (
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	fileutil "nasupload/internal/file"
	"nasupload/internal/upload"
)

type enqueueRequest struct {
	Path        string `json:"path" binding:"required"`
	Destination string `json:"destination"`
}

type enqueueResponse struct {
	ID     string        `json:"id"`
	Status upload.Status `json:"status"`
}

type stateResponse struct {
	Uploads           []upload.Task `json:"uploads"`
	ActiveCount       int           `json:"active_count"`
	PendingCount      int           `json:"pending_count"`
	IsUploading       bool          `json:"is_uploading"`
	OverallPercentage float64       `json:"overall_percentage"`
}

type API struct {
	uploads *upload.Manager

	closing   chan struct{}
	closeOnce sync.Once
}

func NewAPI(uploads *upload.Manager) *API {
	return &API{uploads: uploads, closing: make(chan struct{})}
}

// CloseStreams ends every open event stream. Meant for http.Server.RegisterOnShutdown,
// since Shutdown does not cancel the context of active requests.
func (a *API) CloseStreams() {
	a.closeOnce.Do(func() { close(a.closing) })
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/uploads", a.Enqueue)
		api.GET("/uploads", a.ListUploads)
		api.GET("/uploads/events", a.StreamEvents)
		api.POST("/uploads/clear", a.ClearCompleted)
		api.GET("/uploads/:id", a.GetUpload)
		api.DELETE("/uploads/:id", a.Abort)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Enqueue queues a local file for upload
func (a *API) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid enqueue request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	src, err := fileutil.OpenLocal(req.Path)
	if err != nil {
		log.Warn().Str("path", req.Path).Err(err).Msg("cannot open upload source")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := a.uploads.Enqueue(src, req.Destination)
	status := upload.StatusPending
	if t, ok := a.uploads.Task(id); ok {
		status = t.Status
	}
	c.JSON(http.StatusAccepted, enqueueResponse{ID: id, Status: status})
}

// ListUploads returns every tracked upload with the aggregates
func (a *API) ListUploads(c *gin.Context) {
	c.JSON(http.StatusOK, toStateResponse(a.uploads.Snapshot()))
}

// GetUpload returns one upload
func (a *API) GetUpload(c *gin.Context) {
	id := c.Param("id")
	if t, ok := a.uploads.Task(id); ok {
		c.JSON(http.StatusOK, t)
		return
	}
	log.Warn().Str("upload_id", id).Msg("upload not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": upload.ErrTaskNotFound.Error()})
}

// Abort cancels an upload; unknown or finished ids are accepted as well
func (a *API) Abort(c *gin.Context) {
	a.uploads.Abort(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// ClearCompleted drops finished uploads
func (a *API) ClearCompleted(c *gin.Context) {
	removed := a.uploads.ClearCompleted()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// StreamEvents pushes a "state" server-sent event on every change. A slow
// client only ever gets the newest state.
func (a *API) StreamEvents(c *gin.Context) {
	states := make(chan upload.State, 1)
	cancel := a.uploads.Subscribe(func(s upload.State) {
		select {
		case states <- s:
		default:
			select {
			case <-states:
			default:
			}
			states <- s
		}
	})
	defer cancel()

	log.Debug().Str("client_ip", c.ClientIP()).Msg("upload event stream opened")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-a.closing:
			return false
		case s := <-states:
			c.SSEvent("state", toStateResponse(s))
			return true
		}
	})
}

func toStateResponse(s upload.State) stateResponse {
	return stateResponse{
		Uploads:           s.Ordered(),
		ActiveCount:       s.ActiveCount,
		PendingCount:      s.PendingCount,
		IsUploading:       s.IsUploading,
		OverallPercentage: s.OverallPercentage,
	}
}
