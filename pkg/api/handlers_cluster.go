package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cpdispatch/pkg/scheduler"
)

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "coordination is not configured"})
		return
	}

	leader, err := s.coordinator.NewElection(scheduler.ElectionName).Leader(c.Request.Context())
	if err != nil {
		s.logger.Warn("failed to query scheduler leader", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query leader"})
		return
	}
	if leader == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scheduler leader elected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"election": scheduler.ElectionName,
		"leader":   leader,
	})
}
