package http

import (
	"net/http"

	"fintrack/internal/core"
)

type createBillRequest struct {
	BillerName string `json:"biller_name"`
	Amount     Amount `json:"amount"`
	DueDate    string `json:"due_date"`
	AccountID  int64  `json:"account_id"`
	CategoryID int64  `json:"category_id"`
}

type updateBillRequest struct {
	BillerName *string `json:"biller_name"`
	Amount     *Amount `json:"amount"`
	DueDate    *string `json:"due_date"`
	AccountID  *int64  `json:"account_id"`
	CategoryID *int64  `json:"category_id"`
}

type payBillResponse struct {
	Bill        core.Bill        `json:"bill"`
	Transaction core.Transaction `json:"transaction"`
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request, principal int64) {
	var req createBillRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, err)
		return
	}
	bill, err := s.svc.Bills.Create(r.Context(), principal, core.BillInput{
		BillerName: req.BillerName,
		Amount:     string(req.Amount),
		DueDate:    req.DueDate,
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, bill)
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request, principal int64) {
	bills, err := s.svc.Bills.List(r.Context(), principal)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, bills)
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	bill, err := s.svc.Bills.Get(r.Context(), principal, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, bill)
}

func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	var req updateBillRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, err)
		return
	}
	bill, err := s.svc.Bills.Update(r.Context(), principal, id, core.BillPatch{
		BillerName: req.BillerName,
		Amount:     req.Amount.ptr(),
		DueDate:    req.DueDate,
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, bill)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	if err := s.svc.Bills.Delete(r.Context(), principal, id); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelBill(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	bill, err := s.svc.Bills.Cancel(r.Context(), principal, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, bill)
}

func (s *Server) handlePayBill(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	bill, tx, err := s.svc.Bills.Pay(r.Context(), principal, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, payBillResponse{Bill: bill, Transaction: tx})
}
