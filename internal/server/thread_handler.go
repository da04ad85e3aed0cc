package server

import (
	"net/http"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/model"
	"github.com/gin-gonic/gin"
)

type ThreadHandler struct {
	threads ThreadImporter
}

func NewThreadHandler(threads ThreadImporter) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

// Import 导入一个会话及其消息
func (h *ThreadHandler) Import(c *gin.Context) {
	var imp model.ThreadImport
	if err := c.ShouldBindJSON(&imp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(imp.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages must not be empty"})
		return
	}
	for _, msg := range imp.Messages {
		if msg.Speaker == "" || msg.Content == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message speaker and content are required"})
			return
		}
	}

	threadID, inserted, err := h.threads.Import(c.Request.Context(), imp)
	if err != nil {
		logger.Errorf("[Server] 导入会话失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to import thread"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"threadId": threadID, "inserted": inserted})
}
