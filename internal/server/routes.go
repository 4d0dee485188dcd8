package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xrpool/governor/internal/engine"
)

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req engine.PoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	pool, err := s.eng.CreatePool(s.agentID(r), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"pool_id":        pool.PoolID,
		"name":           pool.Name,
		"scope":          pool.Scope,
		"min_confidence": pool.MinConfidence,
		"confirm_quorum": pool.ConfirmQuorum,
	})
}

func (s *Server) handleInspectPool(w http.ResponseWriter, r *http.Request) {
	info, err := s.eng.Inspect(s.agentID(r), chi.URLParam(r, "poolID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	if err := s.eng.VerifyPool(poolID); err != nil {
		writeErr(w, err)
		return
	}

	n, err := s.eng.DB.AuditLength(poolID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "intact", "entries": n})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req engine.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	caller := s.agentID(r)
	if req.AgentID == "" {
		req.AgentID = caller
	}

	a, err := s.eng.Deposit(caller, chi.URLParam(r, "poolID"), &req)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"xr_id":     a.XRID,
		"status":    a.Status,
		"composite": a.Composite,
		"outlier":   a.OutlierFlag,
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var q engine.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	results, err := s.eng.Retrieve(s.agentID(r), chi.URLParam(r, "poolID"), &q)
	if err != nil {
		writeErr(w, err)
		return
	}
	if results == nil {
		results = []engine.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req engine.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	a, err := s.eng.Validate(s.agentID(r),
		chi.URLParam(r, "poolID"), chi.URLParam(r, "xrID"), &req)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"xr_id":            a.XRID,
		"status":           a.Status,
		"validation_state": a.ValidationState,
		"composite":        a.Composite,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Helpful bool `json:"helpful"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	a, err := s.eng.Feedback(s.agentID(r),
		chi.URLParam(r, "poolID"), chi.URLParam(r, "xrID"), req.Helpful)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"xr_id":     a.XRID,
		"status":    a.Status,
		"composite": a.Composite,
	})
}
