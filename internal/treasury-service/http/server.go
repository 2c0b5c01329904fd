package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/treasury-service/dto"
	"github.com/radieske/cup-betting-engine/internal/treasury-service/repo"
)

// Repo define as operações de tesouro usadas pelo handler HTTP
type Repo interface {
	Fund(ctx context.Context, externalRef string, amount int64) (fundingID string, created bool, err error)
	Balance(ctx context.Context) (total int64, count int, err error)
}

// Server expõe endpoints HTTP do tesouro do operador
type Server struct {
	log    *zap.Logger
	repo   Repo
	OnFund func(amount int64, created bool) // métricas
}

func NewServer(log *zap.Logger, repo Repo) *Server { return &Server{log: log, repo: repo} }

// Router retorna o mux HTTP com as rotas do tesouro
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/treasury/fund", s.fund)       // POST
	mux.HandleFunc("/treasury/balance", s.balance) // GET
	return mux
}

// fund cobre o déficit de um mercado de odds fixas. Repetir o mesmo external_ref é seguro.
func (s *Server) fund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.ExternalRef == "" || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	id, created, err := s.repo.Fund(r.Context(), req.ExternalRef, req.Amount)
	if err != nil {
		if errors.Is(err, repo.ErrRefMismatch) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.log.Error("treasury fund", zap.String("external_ref", req.ExternalRef), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if s.OnFund != nil {
		s.OnFund(req.Amount, created)
	}
	status := "FUNDED"
	if !created {
		status = "DUPLICATE"
	}
	s.log.Info("treasury funding",
		zap.String("external_ref", req.ExternalRef),
		zap.Int64("amount", req.Amount),
		zap.String("status", status))
	writeJSON(w, http.StatusOK, dto.FundResponse{FundingID: id, Status: status})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	total, n, err := s.repo.Balance(r.Context())
	if err != nil {
		s.log.Error("treasury balance", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{TotalFunded: total, Fundings: n})
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
