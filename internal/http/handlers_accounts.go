package http

import (
	"net/http"
)

type createAccountRequest struct {
	AccountType string `json:"account_type"`
	IsMain      bool   `json:"is_main"`
}

func writeBadJSON(w http.ResponseWriter, err error) {
	WriteErrorBody(w, http.StatusBadRequest, codeInvalidJSON, "Request body is not valid JSON: "+err.Error())
}

func writeBadID(w http.ResponseWriter) {
	WriteErrorBody(w, http.StatusBadRequest, codeInvalidID, "Path id must be a positive integer.")
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request, principal int64) {
	var req createAccountRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, err)
		return
	}
	acc, err := s.svc.Accounts.Create(r.Context(), principal, req.AccountType, req.IsMain)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, principal int64) {
	accounts, err := s.svc.Accounts.List(r.Context(), principal)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	acc, err := s.svc.Accounts.Get(r.Context(), id, principal)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, acc)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, principal int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	if err := s.svc.Accounts.Delete(r.Context(), id, principal); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Categories are reference data; any authenticated caller may read them.

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request, _ int64) {
	cats, err := s.svc.Categories.List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, cats)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request, _ int64) {
	id, err := ParsePathID(r, "id")
	if err != nil {
		writeBadID(w)
		return
	}
	cat, err := s.svc.Categories.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, cat)
}
