package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/oracle-simulator/dto"
	"github.com/radieske/cup-betting-engine/pkg/contracts/events"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Server simula os dois colaboradores externos em ambiente de dev:
// o provedor de identidade (/verify) e o oráculo de resultados (/oracle/results).
type Server struct {
	log     *zap.Logger
	results Writer

	OnVerify  func(valid bool)
	OnPublish func()
}

func NewServer(log *zap.Logger, results Writer) *Server {
	return &Server{log: log, results: results}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", s.verify)          // POST
	mux.HandleFunc("/oracle/results", s.publish) // POST
	return mux
}

// verify (mock): assinatura não vazia e mensagem citando o endereço
func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.VerifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	valid := req.Signature != "" && req.Address != "" &&
		strings.Contains(strings.ToLower(req.Message), strings.ToLower(req.Address))
	if s.OnVerify != nil {
		s.OnVerify(valid)
	}
	writeJSON(w, http.StatusOK, dto.VerifyResp{Valid: valid})
}

// publish grava o resultado em market_results com chave = market_id
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.ResultReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" || (!req.Void && req.WinningOutcome == "") {
		http.Error(w, "market_id and winning_outcome (or void) required", http.StatusBadRequest)
		return
	}
	b, _ := json.Marshal(events.MarketResult{
		MarketID:       req.MarketID,
		WinningOutcome: req.WinningOutcome,
		Void:           req.Void,
		Reason:         req.Reason,
	})
	msg := kafkago.Message{Key: []byte(req.MarketID), Value: b, Time: time.Now()}
	if err := s.results.WriteMessages(r.Context(), msg); err != nil {
		s.log.Error("publish market result", zap.String("market_id", req.MarketID), zap.Error(err))
		http.Error(w, "publish failed", http.StatusBadGateway)
		return
	}
	if s.OnPublish != nil {
		s.OnPublish()
	}
	s.log.Info("market result published",
		zap.String("market_id", req.MarketID),
		zap.String("winning_outcome", req.WinningOutcome),
		zap.Bool("void", req.Void))
	writeJSON(w, http.StatusAccepted, dto.ResultResp{Status: "PUBLISHED"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
