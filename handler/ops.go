package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/service"
)

type Replayer interface {
	Run(ctx context.Context, req service.ReplayRequest) (service.ReplayResult, error)
}

type QualityChecker interface {
	Check(ctx context.Context, req service.QualityRequest) (service.QualityResult, error)
}

// OpsHandler serves the operator endpoints.
type OpsHandler struct {
	replay  Replayer
	quality QualityChecker
}

func NewOpsHandler(replay Replayer, quality QualityChecker) *OpsHandler {
	return &OpsHandler{replay: replay, quality: quality}
}

// Replay copies a window of raw objects so they are ingested again.
func (h *OpsHandler) Replay(c *gin.Context) {
	var req service.ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.replay.Run(c.Request.Context(), req)
	if err != nil {
		respondOpsError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Quality reports whether recent columnar output exists. An empty body
// checks the defaults; a failed check answers 412 so probes can alert on it.
func (h *OpsHandler) Quality(c *gin.Context) {
	var req service.QualityRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.quality.Check(c.Request.Context(), req)
	if err != nil {
		respondOpsError(c, err)
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusPreconditionFailed
	}
	c.JSON(status, res)
}

func respondOpsError(c *gin.Context, err error) {
	_ = c.Error(err)
	if errors.Is(err, service.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
