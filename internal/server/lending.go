package server

import (
	"net/http"
	"strings"

	"libris/pkg/domain"
)

type borrowRequest struct {
	BookID string `json:"bookId"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "bookId is required")
		return
	}
	tx, msg, err := s.app.Lending().BorrowBook(user.ID, req.BookID)
	if err != nil {
		s.audit(r, "lending.borrow", "denied", "user_id", user.ID, "book_id", req.BookID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "lending.borrow", "success", "user_id", user.ID, "book_id", req.BookID, "transaction_id", tx.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     msg,
		"transaction": tx,
	})
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	txs, err := s.app.Lending().TransactionsForUser(user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// handleReturn serves POST /api/my/transactions/{id}/return.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/my/transactions/")
	id, ok := strings.CutSuffix(rest, "/return")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	outcome, err := s.app.Lending().ReturnBook(id, user.ID)
	if err != nil {
		s.audit(r, "lending.return", "denied", "user_id", user.ID, "transaction_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "lending.return", "success",
		"user_id", user.ID,
		"transaction_id", id,
		"late", outcome.Late,
		"penalty_recorded", outcome.PenaltyRecorded,
	)
	resp := map[string]any{
		"message":     outcome.Message,
		"transaction": outcome.Transaction,
		"late":        outcome.Late,
	}
	if outcome.Penalty != nil {
		resp["penalty"] = outcome.Penalty
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMyPenalties(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	penalties, err := s.app.Lending().PenaltiesForUser(user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, penalties)
}

// handlePayPenalty serves POST /api/my/penalties/{id}/pay.
func (s *Server) handlePayPenalty(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/my/penalties/")
	id, ok := strings.CutSuffix(rest, "/pay")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Lending().PayPenalty(id, user.ID); err != nil {
		s.audit(r, "lending.pay_penalty", "denied", "user_id", user.ID, "penalty_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "lending.pay_penalty", "success", "user_id", user.ID, "penalty_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "penalty paid"})
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.StatsForUser(user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminTransactions(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	txs, err := s.app.Lending().Transactions()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleAdminTransactionByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/transactions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Lending().PurgeTransaction(id); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "admin.transaction.delete", "success", "transaction_id", id, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleAdminPenalties(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	penalties, err := s.app.Lending().Penalties()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, penalties)
}

func (s *Server) handleAdminPenaltyByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/penalties/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Lending().RemovePenalty(id); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "admin.penalty.delete", "success", "penalty_id", id, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
