package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketKind identifica o tipo de evento apostável
type MarketKind string

const (
	MarketMatch        MarketKind = "match"
	MarketChampionship MarketKind = "championship"
)

// MarketStatus segue open -> locked -> settling -> settled, ou open/locked -> settling -> voided
type MarketStatus string

const (
	StatusOpen     MarketStatus = "open"
	StatusLocked   MarketStatus = "locked"
	StatusSettling MarketStatus = "settling"
	StatusSettled  MarketStatus = "settled"
	StatusVoided   MarketStatus = "voided"
)

// Pricing define como as odds e os pagamentos são calculados
type Pricing string

const (
	PricingParimutuel Pricing = "parimutuel"
	PricingFixed      Pricing = "fixed"
)

type BetStatus string

const (
	BetOpen BetStatus = "open"
	BetWon  BetStatus = "won"
	BetLost BetStatus = "lost"
	BetVoid BetStatus = "void"
	BetPaid BetStatus = "paid"
)

// Limites em unidades mínimas. Mantêm pools, fees e payouts longe do overflow de int64.
const (
	MaxStake     int64 = 1_000_000_000_000       // por aposta
	MaxPool      int64 = 1_000_000_000_000_000   // soma dos pools de um mercado
	MaxLiability int64 = 100_000_000_000_000_000 // payout bruto de um outcome em odds fixas
)

// Match outcomes padrão (time A, empate, time B)
const (
	OutcomeA    = "A"
	OutcomeDraw = "draw"
	OutcomeB    = "B"
)

// Market é o modelo canônico de um mercado apostável.
// Pools e FixedOdds são indexados pelo rótulo do outcome.
type Market struct {
	ID      string
	Kind    MarketKind
	Pricing Pricing
	Status  MarketStatus

	Title string
	Group string
	Venue string
	TeamA string
	TeamB string

	Outcomes  []string
	FixedOdds map[string]decimal.Decimal
	Pools     map[string]int64

	FeePlatformBps int64
	FeeOracleBps   int64

	OpenTime  time.Time
	CloseTime time.Time

	// intenção persistida enquanto status == settling (usada na recuperação)
	SettlingOutcome string
	SettlingVoid    bool
	VoidReason      string
	SettlingSince   time.Time

	Version int64
}

// HasOutcome indica se o rótulo pertence ao conjunto de outcomes do mercado
func (m Market) HasOutcome(outcome string) bool {
	for _, o := range m.Outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

// TotalPool soma os pools de todos os outcomes
func (m Market) TotalPool() int64 {
	var total int64
	for _, o := range m.Outcomes {
		total += m.Pools[o]
	}
	return total
}

// Clone devolve uma cópia profunda (mapas e slices não são compartilhados)
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.Pools = make(map[string]int64, len(m.Pools))
	for k, v := range m.Pools {
		out.Pools[k] = v
	}
	if m.FixedOdds != nil {
		out.FixedOdds = make(map[string]decimal.Decimal, len(m.FixedOdds))
		for k, v := range m.FixedOdds {
			out.FixedOdds[k] = v
		}
	}
	return out
}

// Bet é uma aposta individual. OddsLocked nunca muda depois de criada.
// Result guarda won/lost/void mesmo depois que Status vira paid.
type Bet struct {
	ID              string
	MarketID        string
	Outcome         string
	Bettor          string
	Amount          int64
	OddsLocked      decimal.Decimal
	PotentialPayout int64
	Payout          int64
	Status          BetStatus
	Result          BetStatus
	IdempotencyKey  string
	PlacedAt        time.Time
	SettledAt       time.Time
	PaidAt          time.Time
}

// BetDraft é o que o serviço de apostas entrega ao store para gravação
type BetDraft struct {
	ID             string
	MarketID       string
	Outcome        string
	Bettor         string
	Amount         int64
	IdempotencyKey string
	PlacedAt       time.Time
}

// Quote é o preço fixado para uma aposta no instante da gravação
type Quote struct {
	Odds            decimal.Decimal
	PotentialPayout int64
}

// Quoter é chamado pelo store dentro da mesma unidade atômica que incrementa o pool,
// com o snapshot do mercado anterior ao incremento.
type Quoter func(m Market, outcome string, amount int64) (Quote, error)

// SettlementIntent é gravado junto com a transição para settling
type SettlementIntent struct {
	WinningOutcome string
	Void           bool
	Reason         string
	At             time.Time
}

// SettlementRecord é criado uma única vez por mercado.
// PayoutTotal + FeePlatformAmount + FeeOracleAmount == TotalPool + TreasuryDelta.
type SettlementRecord struct {
	MarketID          string    `json:"market_id"`
	WinningOutcome    string    `json:"winning_outcome"`
	Voided            bool      `json:"voided"`
	VoidReason        string    `json:"void_reason,omitempty"`
	TotalPool         int64     `json:"total_pool"`
	FeePlatformAmount int64     `json:"fee_platform_amount"`
	FeeOracleAmount   int64     `json:"fee_oracle_amount"`
	PayoutTotal       int64     `json:"payout_total"`
	RoundingResidual  int64     `json:"rounding_residual"`
	TreasuryDelta     int64     `json:"treasury_delta"`
	SettledAt         time.Time `json:"settled_at"`
}

// PayoutUpdate é a resolução de uma aposta aplicada no batch de liquidação
type PayoutUpdate struct {
	BetID  string
	Status BetStatus
	Payout int64
}

type MarketFilter struct {
	Kind     MarketKind
	Statuses []MarketStatus
	Limit    int
}

func (f MarketFilter) matches(m Market) bool {
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if m.Status == s {
			return true
		}
	}
	return false
}

type LeaderboardEntry struct {
	Bettor   string `json:"address"`
	Winnings int64  `json:"winnings"`
	Bets     int    `json:"bets"`
}

type UserStats struct {
	Bettor        string `json:"address"`
	TotalBets     int    `json:"total_bets"`
	ActiveBets    int    `json:"active_bets"`
	TotalStaked   int64  `json:"total_staked"`
	PotentialWins int64  `json:"potential_wins"`
	TotalWon      int64  `json:"total_won"`
}
