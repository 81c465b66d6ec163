package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/health"
	"kq-tunnel/internal/mux/session"
	"kq-tunnel/internal/tunnel"
)

// HealthzResponse /healthz 响应
type HealthzResponse struct {
	*health.Info
	Overall    health.ComponentStatus             `json:"overall"`
	Components map[string]*health.ComponentHealth `json:"components"`
	Timestamp  time.Time                          `json:"timestamp"`
}

// SessionListResponse 会话列表响应
type SessionListResponse struct {
	Sessions []session.Snapshot `json:"sessions"`
	Total    int                `json:"total"`
}

// ForwardListResponse 转发列表响应
type ForwardListResponse struct {
	Forwards []tunnel.ForwarderStats `json:"forwards"`
	Total    int                     `json:"total"`
}

// handleHealthz 健康检查
//
// healthy 与 degraded 返回 200；draining 或不健康返回 503，让探活方摘除
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	components := s.checks.CheckAll(r.Context())
	resp := HealthzResponse{
		Info:       s.health.Info(),
		Overall:    health.Overall(components),
		Components: components,
		Timestamp:  time.Now(),
	}

	statusCode := http.StatusOK
	if resp.Status != health.StatusHealthy || resp.Overall == health.ComponentStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// handleSnapshot 端点快照
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.source.Snapshot())
}

// handleListSessions 会话列表，按创建时间排序
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.source.Snapshot().Sessions
	if sessions == nil {
		sessions = []session.Snapshot{}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	respondJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions, Total: len(sessions)})
}

// handleGetSession 单个会话详情
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.source.SessionSnapshot(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleForwards 转发统计
func (s *Server) handleForwards(w http.ResponseWriter, r *http.Request) {
	forwards := []tunnel.ForwarderStats{}
	if s.cfg.Forwards != nil {
		forwards = append(forwards, s.cfg.Forwards()...)
	}
	respondJSON(w, http.StatusOK, ForwardListResponse{Forwards: forwards, Total: len(forwards)})
}

// handleMetrics 进程内指标
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := metrics.GetGlobalMetrics()
	if m == nil {
		respondError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	respondJSON(w, http.StatusOK, m.Snapshot())
}
