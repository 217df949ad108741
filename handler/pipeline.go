package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/middleware"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/service"
)

// InvocationIDHeader lets a caller pin the transform invocation id so a
// redelivered batch is traceable across attempts.
const InvocationIDHeader = "X-Invocation-ID"

type Ingester interface {
	Run(ctx context.Context, units []model.RawUnit) (model.IngestSummary, error)
}

type Transformer interface {
	Run(ctx context.Context, invocationID string, messages []model.Message) (model.TransformResult, error)
}

// PipelineHandler exposes both pipeline stages over HTTP.
type PipelineHandler struct {
	ingest    Ingester
	transform Transformer
	filter    service.UnitFilter
}

func NewPipelineHandler(ingest Ingester, transform Transformer, filter service.UnitFilter) *PipelineHandler {
	return &PipelineHandler{ingest: ingest, transform: transform, filter: filter}
}

// TransformRequest is a batch of queued messages.
type TransformRequest struct {
	Records []model.Message `json:"Records"`
}

// Ingest accepts an S3/MinIO object-created notification.
func (h *PipelineHandler) Ingest(c *gin.Context) {
	if h.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingest is not enabled"})
		return
	}

	var info notification.Info
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event: " + err.Error()})
		return
	}
	units, err := service.UnitsFromNotification(info)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.ingest.Run(c.Request.Context(), h.filter.Apply(units))
	summary.Request = middleware.GetRequestID(c)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Transform processes a message batch and answers with the ids to redeliver.
func (h *PipelineHandler) Transform(c *gin.Context) {
	if h.transform == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transform is not enabled"})
		return
	}

	var req TransformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event: " + err.Error()})
		return
	}

	invocationID := c.GetHeader(InvocationIDHeader)
	if invocationID == "" {
		invocationID = middleware.GetRequestID(c)
	}

	res, err := h.transform.Run(c.Request.Context(), invocationID, req.Records)
	if err != nil {
		_ = c.Error(err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrConfiguration) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
