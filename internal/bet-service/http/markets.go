package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/bet-service/dto"
	"github.com/radieske/cup-betting-engine/internal/ledger"
)

func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	ms, err := s.Markets.ListMarkets(r.Context(), ledger.MarketFilter{
		Kind:  ledger.MarketMatch,
		Limit: queryLimit(r, 50, 200),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]dto.MarketView, 0, len(ms))
	for _, m := range ms {
		out = append(out, dto.NewMarketView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	ms, err := s.Markets.ListMarkets(r.Context(), ledger.MarketFilter{Kind: ledger.MarketMatch})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.GroupMarkets(ms))
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cached dto.MarketView
	if s.Cache != nil {
		if ok, _ := s.Cache.Get(r.Context(), id, &cached); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	m, err := s.Markets.GetMarket(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v := dto.NewMarketView(m)
	if s.Cache != nil {
		if err := s.Cache.Set(r.Context(), id, v); err != nil {
			s.Log.Debug("cache set failed", zap.String("market_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// getChampionship devolve o mercado de campeão mais próximo de fechar (aberto primeiro)
func (s *Server) getChampionship(w http.ResponseWriter, r *http.Request) {
	m, err := s.championship(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewChampionshipView(m))
}

func (s *Server) championship(r *http.Request) (ledger.Market, error) {
	for _, statuses := range [][]ledger.MarketStatus{{ledger.StatusOpen}, nil} {
		ms, err := s.Markets.ListMarkets(r.Context(), ledger.MarketFilter{
			Kind:     ledger.MarketChampionship,
			Statuses: statuses,
			Limit:    1,
		})
		if err != nil {
			return ledger.Market{}, err
		}
		if len(ms) > 0 {
			return ms[0], nil
		}
	}
	return ledger.Market{}, ledger.ErrMarketNotFound
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Store.Leaderboard(r.Context(), queryLimit(r, 10, 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewLeaderboard(entries))
}
