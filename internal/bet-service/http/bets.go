package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/radieske/cup-betting-engine/internal/auth"
	"github.com/radieske/cup-betting-engine/internal/bet-service/dto"
	"github.com/radieske/cup-betting-engine/internal/betting"
	"github.com/radieske/cup-betting-engine/internal/ledger"
)

var errBadOdds = &ledger.Error{Kind: ledger.KindValidation, Code: "invalid_odds", Message: "invalid odds"}

func expectedOdds(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errBadOdds, raw)
	}
	return &d, nil
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Markets.GetMarket(r.Context(), string(req.MatchID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.place(w, r, m, string(req.Outcome), req.Amount, req.Odds, "")
}

func (s *Server) placeChampionshipBet(w http.ResponseWriter, r *http.Request) {
	var req dto.ChampionshipBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		m   ledger.Market
		err error
	)
	if req.MarketID != "" {
		m, err = s.Markets.GetMarket(r.Context(), string(req.MarketID))
	} else {
		m, err = s.championship(r)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if m.Kind != ledger.MarketChampionship {
		s.writeError(w, r, fmt.Errorf("%w: %s is not a championship market", ledger.ErrInvalidMarket, m.ID))
		return
	}
	s.place(w, r, m, string(req.TeamID), req.Amount, req.Odds, req.UserAddress)
}

func (s *Server) place(w http.ResponseWriter, r *http.Request, m ledger.Market, rawOutcome string, amount int64, rawOdds, bettor string) {
	outcome, err := dto.ResolveOutcome(m, rawOutcome)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	odds, err := expectedOdds(rawOdds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	b, created, err := s.Bets.PlaceBet(r.Context(), auth.BearerToken(r), betting.Request{
		MarketID:       m.ID,
		Outcome:        outcome,
		Amount:         amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Bettor:         bettor,
		ExpectedOdds:   odds,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, dto.PlaceBetResponse{
		Bet:          dto.NewBetView(b),
		PotentialWin: b.PotentialPayout,
		Replayed:     !created,
	})
}

func (s *Server) betsForUser(w http.ResponseWriter, r *http.Request) {
	bets, err := s.Bets.BetsForUser(r.Context(), auth.BearerToken(r), chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewBetViews(bets))
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	b, err := s.Bets.GetBet(r.Context(), auth.BearerToken(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewBetView(b))
}

func (s *Server) userStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Bets.Stats(r.Context(), auth.BearerToken(r), chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
