// handler.go — REST API handlers。
package dashboard

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/state", s.getState)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:runId", s.getRun)
	api.GET("/runs/:runId/results", s.getMergedResults)
	api.GET("/live/:testId", s.getLiveConversation)
	api.GET("/running", s.getRunningTests)

	api.POST("/select/run", s.selectRun)
	api.POST("/select/test", s.selectTest)

	api.GET("/archive/runs", s.listArchivedRuns)
	api.GET("/archive/runs/:runId", s.getArchivedRun)
	api.GET("/archive/conversations/:runId", s.listArchivedConversations)

	api.GET("/events", s.sseHandler)
	s.router.GET("/ws", s.wsHandler)
}

// getState 完整状态快照 (runs + 选中态 + 派生视图)。
func (s *Server) getState(c *gin.Context) {
	success(c, s.mgr.Snapshot())
}

func (s *Server) listRuns(c *gin.Context) {
	success(c, gin.H{"runs": s.mgr.RunList()})
}

func (s *Server) getRun(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("runId"))
	run := s.mgr.Run(runID)
	if run == nil {
		notFound(c, "run not loaded: "+runID)
		return
	}
	success(c, run)
}

// getMergedResults 合并结果集: 合成行在前, 持久化行权威。
func (s *Server) getMergedResults(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("runId"))
	if runID == "" {
		badRequest(c, "invalid_request", "runId required")
		return
	}
	success(c, gin.H{
		"runId":   runID,
		"results": s.mgr.MergedResults(runID),
	})
}

func (s *Server) getLiveConversation(c *gin.Context) {
	testID := strings.TrimSpace(c.Param("testId"))
	entry, ok := s.mgr.Conversations().Get(testID)
	if !ok {
		notFound(c, "no live conversation for test: "+testID)
		return
	}
	success(c, entry)
}

func (s *Server) getRunningTests(c *gin.Context) {
	success(c, gin.H{
		"count":   s.mgr.RunningTestCount(),
		"entries": s.mgr.Registry().Entries(),
	})
}

// ========================================
// 归档离线查询 (归档关闭时统一 404)
// ========================================

func (s *Server) listArchivedRuns(c *gin.Context) {
	if s.archive == nil {
		notFound(c, "archive disabled")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	runs, err := s.archive.ListRuns(c.Request.Context(), c.Query("status"), c.Query("keyword"), limit)
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"runs": runs})
}

func (s *Server) getArchivedRun(c *gin.Context) {
	if s.archive == nil {
		notFound(c, "archive disabled")
		return
	}
	runID := strings.TrimSpace(c.Param("runId"))
	run, err := s.archive.GetRun(c.Request.Context(), runID)
	if err != nil {
		serverError(c, err)
		return
	}
	if run == nil {
		notFound(c, "run not archived: "+runID)
		return
	}
	success(c, run)
}

func (s *Server) listArchivedConversations(c *gin.Context) {
	if s.archive == nil {
		notFound(c, "archive disabled")
		return
	}
	runID := strings.TrimSpace(c.Param("runId"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	convs, err := s.archive.ListConversations(c.Request.Context(), runID, limit)
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"runId": runID, "conversations": convs})
}

func (s *Server) selectRun(c *gin.Context) {
	var req struct {
		RunID string `json:"runId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.selector.SelectRun(c.Request.Context(), req.RunID); err != nil {
		serverError(c, err)
		return
	}
	success(c, s.mgr.View())
}

func (s *Server) selectTest(c *gin.Context) {
	var req struct {
		TestID string `json:"testId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.selector.SelectTest(c.Request.Context(), req.TestID); err != nil {
		serverError(c, err)
		return
	}
	success(c, s.mgr.View())
}
