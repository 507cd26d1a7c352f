package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

func (h *Handlers) PutConfig(c *gin.Context) {
	var cfg model.ProvisioningConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if cfg.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if cfg.AccountSchema == "" || cfg.CredentialSchema == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_schema and credential_schema are required"})
		return
	}

	if err := h.store.PutConfig(cfg); err != nil {
		h.logger.Error("failed to store config", zap.String("config_id", cfg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cfg.ID})
}

func (h *Handlers) GetConfig(c *gin.Context) {
	cfg, err := h.store.GetConfig(c.Param("id"))
	if err != nil {
		respondNotFoundOr500(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handlers) ListConfigs(c *gin.Context) {
	cfgs, err := h.store.ListConfigs()
	if err != nil {
		h.logger.Error("failed to list configs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list configs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": cfgs})
}
