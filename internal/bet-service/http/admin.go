package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/radieske/cup-betting-engine/internal/bet-service/dto"
	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
)

func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", ledger.ErrInvalidMarket, field)
	}
	return t, nil
}

func specFromRequest(req dto.OpenMarketRequest) (market.Spec, error) {
	spec := market.Spec{
		ID:             req.ID,
		Kind:           ledger.MarketKind(req.Kind),
		Pricing:        ledger.Pricing(req.Pricing),
		Title:          req.Title,
		Group:          req.Group,
		Venue:          req.Venue,
		TeamA:          req.TeamA,
		TeamB:          req.TeamB,
		Outcomes:       req.Outcomes,
		FeePlatformBps: req.FeePlatformBps,
		FeeOracleBps:   req.FeeOracleBps,
	}
	var err error
	if spec.OpenTime, err = parseTime("open_time", req.OpenTime); err != nil {
		return spec, err
	}
	if spec.CloseTime, err = parseTime("close_time", req.CloseTime); err != nil {
		return spec, err
	}
	if spec.CloseTime.IsZero() {
		return spec, fmt.Errorf("%w: close_time is required", ledger.ErrInvalidMarket)
	}
	if len(req.FixedOdds) > 0 {
		spec.FixedOdds = make(map[string]decimal.Decimal, len(req.FixedOdds))
		for o, raw := range req.FixedOdds {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return spec, fmt.Errorf("%w: odds for %q", ledger.ErrInvalidMarket, o)
			}
			spec.FixedOdds[o] = d
		}
	}
	return spec, nil
}

func (s *Server) openMarket(w http.ResponseWriter, r *http.Request) {
	var req dto.OpenMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spec, err := specFromRequest(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Markets.OpenMarket(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewMarketView(m))
}

func (s *Server) lockMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.Markets.LockMarket(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.notifyStatus(r, id)
	writeJSON(w, http.StatusOK, dto.NewMarketView(m))
}

func (s *Server) settleMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dto.SettleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Markets.GetMarket(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome, err := dto.ResolveOutcome(m, string(req.WinningOutcome))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Settlement.Settle(r.Context(), id, outcome)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.notifyStatus(r, id)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) voidMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dto.VoidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Markets.VoidMarket(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.notifyStatus(r, id)
	writeJSON(w, http.StatusOK, rec)
}

// recoverMarket refaz na hora uma liquidação parada em settling
func (s *Server) recoverMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.Settlement.Recover(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.notifyStatus(r, id)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Store.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) markPaid(w http.ResponseWriter, r *http.Request) {
	b, err := s.Settlement.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewBetView(b))
}
