package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/orchestrator"
	"github.com/systeminit/pluto/internal/progress"
	"github.com/systeminit/pluto/internal/store"
	"github.com/systeminit/pluto/pkg/model"
)

type Handlers struct {
	orc    *orchestrator.Orchestrator
	store  *store.Store
	rec    *progress.Recorder
	logger *zap.Logger
}

func New(orc *orchestrator.Orchestrator, st *store.Store, rec *progress.Recorder, logger *zap.Logger) *Handlers {
	return &Handlers{orc: orc, store: st, rec: rec, logger: logger}
}

type startDeploymentRequest struct {
	ConfigID    string `json:"config_id" binding:"required"`
	AccountName string `json:"account_name" binding:"required"`
}

// StartDeployment kicks off a provisioning pipeline and returns the new
// deployment id immediately; the pipeline itself runs in the background.
func (h *Handlers) StartDeployment(c *gin.Context) {
	var req startDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	id, err := h.orc.StartDeployment(c.Request.Context(), req.ConfigID, req.AccountName)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
			return
		}
		h.logger.Error("failed to start deployment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start deployment"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"deployment_id": id})
}

func (h *Handlers) GetProgress(c *gin.Context) {
	prog, err := h.orc.GetProgress(c.Param("id"))
	if err != nil {
		respondNotFoundOr500(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, prog)
}

func (h *Handlers) GetDeployment(c *gin.Context) {
	dep, err := h.rec.GetDeployment(c.Param("id"))
	if err != nil {
		respondNotFoundOr500(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dep)
}

func (h *Handlers) ListDeployments(c *gin.Context) {
	deps, err := h.rec.ListDeployments()
	if err != nil {
		h.logger.Error("failed to list deployments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deployments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": deps})
}

func respondNotFoundOr500(c *gin.Context, logger *zap.Logger, err error) {
	var nf *model.NotFoundError
	if errors.As(err, &nf) {
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
		return
	}
	logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
