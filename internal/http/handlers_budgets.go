package http

import (
	"net/http"

	"fintrack/internal/core"
)

type createBudgetRequest struct {
	Name            string `json:"name"`
	Amount          Amount `json:"amount"`
	CategoryID      int64  `json:"category_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

type updateBudgetRequest struct {
	Name            *string `json:"name"`
	Amount          *Amount `json:"amount"`
	CategoryID      *int64  `json:"category_id"`
	DurationMinutes *int    `json:"duration_minutes"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request, principal int64) {
	var req createBudgetRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, err)
		return
	}
	budget, err := s.svc.Budgets.Create(r.Context(), principal, core.BudgetInput{
		Name:            req.Name,
		Amount:          string(req.Amount),
		CategoryID:      req.CategoryID,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, budget)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request, principal int64) {
	budgets, err := s.svc.Budgets.List(r.Context(), principal)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, budgets)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	budget, err := s.svc.Budgets.Get(r.Context(), principal, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, budget)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	var req updateBudgetRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, err)
		return
	}
	budget, err := s.svc.Budgets.Update(r.Context(), principal, id, core.BudgetPatch{
		Name:            req.Name,
		Amount:          req.Amount.ptr(),
		CategoryID:      req.CategoryID,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, budget)
}
