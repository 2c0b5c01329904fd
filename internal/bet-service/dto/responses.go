package dto

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
)

// MarketView é a forma pública de um mercado (odds e pool por outcome)
type MarketView struct {
	ID             string                     `json:"id"`
	Kind           string                     `json:"kind"`
	Pricing        string                     `json:"pricing"`
	Status         string                     `json:"status"`
	Title          string                     `json:"title,omitempty"`
	TeamA          string                     `json:"team_a,omitempty"`
	TeamB          string                     `json:"team_b,omitempty"`
	Group          string                     `json:"group,omitempty"`
	Venue          string                     `json:"venue,omitempty"`
	Outcomes       []string                   `json:"outcomes"`
	Odds           map[string]decimal.Decimal `json:"odds"`
	Pool           map[string]int64           `json:"pool"`
	TotalPool      int64                      `json:"total_pool"`
	FeePlatformBps int64                      `json:"fee_platform_bps"`
	FeeOracleBps   int64                      `json:"fee_oracle_bps"`
	OpenTime       time.Time                  `json:"open_time"`
	CloseTime      time.Time                  `json:"close_time"`
}

func NewMarketView(m ledger.Market) MarketView {
	pool := make(map[string]int64, len(m.Outcomes))
	for _, o := range m.Outcomes {
		pool[o] = m.Pools[o]
	}
	return MarketView{
		ID:             m.ID,
		Kind:           string(m.Kind),
		Pricing:        string(m.Pricing),
		Status:         string(m.Status),
		Title:          m.Title,
		TeamA:          m.TeamA,
		TeamB:          m.TeamB,
		Group:          m.Group,
		Venue:          m.Venue,
		Outcomes:       m.Outcomes,
		Odds:           market.Odds(m),
		Pool:           pool,
		TotalPool:      m.TotalPool(),
		FeePlatformBps: m.FeePlatformBps,
		FeeOracleBps:   m.FeeOracleBps,
		OpenTime:       m.OpenTime,
		CloseTime:      m.CloseTime,
	}
}

// GroupView agrupa partidas pelo rótulo de grupo
type GroupView struct {
	Group   string       `json:"group"`
	Matches []MarketView `json:"matches"`
}

func GroupMarkets(ms []ledger.Market) []GroupView {
	idx := map[string]int{}
	var out []GroupView
	for _, m := range ms {
		i, ok := idx[m.Group]
		if !ok {
			i = len(out)
			idx[m.Group] = i
			out = append(out, GroupView{Group: m.Group})
		}
		out[i].Matches = append(out[i].Matches, NewMarketView(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// TeamView é uma linha do mercado de campeão (id 1..N na ordem dos outcomes)
type TeamView struct {
	ID   int             `json:"id"`
	Name string          `json:"name"`
	Odds decimal.Decimal `json:"odds"`
	Pool int64           `json:"pool"`
}

type ChampionshipView struct {
	MarketView
	Teams []TeamView `json:"teams"`
}

func NewChampionshipView(m ledger.Market) ChampionshipView {
	v := ChampionshipView{MarketView: NewMarketView(m)}
	for i, o := range m.Outcomes {
		v.Teams = append(v.Teams, TeamView{ID: i + 1, Name: o, Odds: v.Odds[o], Pool: m.Pools[o]})
	}
	return v
}

// BetView é a forma pública de uma aposta
type BetView struct {
	ID           string          `json:"id"`
	MarketID     string          `json:"match_id"`
	Outcome      string          `json:"outcome"`
	Bettor       string          `json:"user_address"`
	Amount       int64           `json:"amount"`
	OddsLocked   decimal.Decimal `json:"odds"`
	PotentialWin int64           `json:"potential_win"`
	Payout       int64           `json:"payout"`
	Status       string          `json:"status"`
	Result       string          `json:"result,omitempty"`
	PlacedAt     time.Time       `json:"placed_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
}

func NewBetView(b ledger.Bet) BetView {
	v := BetView{
		ID:           b.ID,
		MarketID:     b.MarketID,
		Outcome:      b.Outcome,
		Bettor:       b.Bettor,
		Amount:       b.Amount,
		OddsLocked:   b.OddsLocked,
		PotentialWin: b.PotentialPayout,
		Payout:       b.Payout,
		Status:       string(b.Status),
		Result:       string(b.Result),
		PlacedAt:     b.PlacedAt,
	}
	if !b.SettledAt.IsZero() {
		t := b.SettledAt
		v.SettledAt = &t
	}
	if !b.PaidAt.IsZero() {
		t := b.PaidAt
		v.PaidAt = &t
	}
	return v
}

func NewBetViews(bets []ledger.Bet) []BetView {
	out := make([]BetView, 0, len(bets))
	for _, b := range bets {
		out = append(out, NewBetView(b))
	}
	return out
}

// PlaceBetResponse devolve a aposta criada e o ganho potencial (só exibição)
type PlaceBetResponse struct {
	Bet          BetView `json:"bet"`
	PotentialWin int64   `json:"potential_win"`
	Replayed     bool    `json:"replayed,omitempty"`
}

type UserView struct {
	Address string `json:"address"`
}

type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	User      UserView  `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse é o corpo de todo erro: kind estável + mensagem legível
type ErrorResponse struct {
	Error       string           `json:"error"`
	Kind        string           `json:"kind"`
	Code        string           `json:"code"`
	CurrentOdds *decimal.Decimal `json:"current_odds,omitempty"`
}

type LeaderboardView struct {
	Rank     int    `json:"rank"`
	Address  string `json:"address"`
	Winnings int64  `json:"winnings"`
	Bets     int    `json:"bets"`
}

func NewLeaderboard(entries []ledger.LeaderboardEntry) []LeaderboardView {
	out := make([]LeaderboardView, 0, len(entries))
	for i, e := range entries {
		out = append(out, LeaderboardView{Rank: i + 1, Address: e.Bettor, Winnings: e.Winnings, Bets: e.Bets})
	}
	return out
}
