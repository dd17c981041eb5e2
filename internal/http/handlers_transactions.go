package http

import (
	"net/http"

	"fintrack/internal/core"
)

type postTransactionRequest struct {
	Kind            string `json:"transaction_type"`
	Amount          Amount `json:"amount"`
	FromAccountID   int64  `json:"from_account_id"`
	ToAccountNumber string `json:"to_account_number"`
	CategoryID      *int64 `json:"category_id"`
	Description     string `json:"description"`
}

func (s *Server) handlePostTransaction(w http.ResponseWriter, r *http.Request, principal int64) {
	var req postTransactionRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, err)
		return
	}
	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	tx, err := s.svc.Ledger.Post(r.Context(), principal, core.PostRequest{
		Kind:            kind,
		Amount:          string(req.Amount),
		FromAccountID:   req.FromAccountID,
		ToAccountNumber: req.ToAccountNumber,
		CategoryID:      req.CategoryID,
		Description:     req.Description,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, principal int64) {
	txs, err := s.svc.Ledger.ListTransactions(r.Context(), principal)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, txs)
}
