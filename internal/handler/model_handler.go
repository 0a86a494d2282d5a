package handler

import (
	"net/http"

	"ai-chat-go/internal/model"

	"github.com/gin-gonic/gin"
)

// ModelHandler 暴露固定的模型目录。
type ModelHandler struct {
	catalog model.Catalog
}

// NewModelHandler 创建一个新的 ModelHandler。
func NewModelHandler(catalog model.Catalog) *ModelHandler {
	return &ModelHandler{catalog: catalog}
}

// List 处理 GET /api/models。
func (h *ModelHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"models":  h.catalog,
			"default": h.catalog.Default(),
		},
	})
}

// Health 处理 GET /healthz。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
