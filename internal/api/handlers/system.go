package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves relay-wide statistics
type SystemHandler struct {
	stats func() interface{}
}

func NewSystemHandler(stats func() interface{}) *SystemHandler {
	return &SystemHandler{
		stats: stats,
	}
}

// GetStats returns relay statistics plus process metrics
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   h.stats(),
		"process": gin.H{
			"memory_mb":  m.Alloc / 1024 / 1024,
			"cpu_cores":  runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
			"go_version": runtime.Version(),
		},
		"timestamp": time.Now().Unix(),
	})
}
