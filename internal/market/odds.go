package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/money"
)

// MinOdds é o piso das odds implícitas (pool vazio ou dominante)
var MinOdds = decimal.RequireFromString("1.01")

// OddsScale é o número de casas decimais das odds implícitas
const OddsScale = 4

// MaxFixedOdds é o teto exclusivo de odds fixas (8 dígitos inteiros)
var MaxFixedOdds = decimal.New(1, 8)

// ImpliedOdds devolve as odds correntes de um outcome.
// Parimutuel: total_pool / pool[o], com piso MinOdds. Fixed: odds configuradas, sem olhar o pool.
func ImpliedOdds(m ledger.Market, outcome string) (decimal.Decimal, error) {
	if !m.HasOutcome(outcome) {
		return decimal.Zero, fmt.Errorf("%w: %q", ledger.ErrInvalidOutcome, outcome)
	}
	if m.Pricing == ledger.PricingFixed {
		odds, ok := m.FixedOdds[outcome]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no odds for %q", ledger.ErrInvalidMarket, outcome)
		}
		return odds, nil
	}
	pool := m.Pools[outcome]
	if pool <= 0 {
		return MinOdds, nil
	}
	odds := decimal.NewFromInt(m.TotalPool()).DivRound(decimal.NewFromInt(pool), OddsScale)
	if odds.LessThan(MinOdds) {
		return MinOdds, nil
	}
	return odds, nil
}

// Odds devolve as odds de todos os outcomes, na ordem do mercado
func Odds(m ledger.Market) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m.Outcomes))
	for _, o := range m.Outcomes {
		if v, err := ImpliedOdds(m, o); err == nil {
			out[o] = v
		}
	}
	return out
}

// PotentialPayout é só para exibição. Usa a mesma conta da liquidação de odds fixas:
// bruto = amount * odds e cada fee sai do bruto com banker's rounding.
func PotentialPayout(amount int64, odds decimal.Decimal, feePlatformBps, feeOracleBps int64) (int64, error) {
	gross, err := money.MulOdds(amount, odds)
	if err != nil {
		return 0, err
	}
	net := gross - money.ApplyBps(gross, feePlatformBps, money.RoundHalfEven) - money.ApplyBps(gross, feeOracleBps, money.RoundHalfEven)
	if net < 0 {
		return 0, nil
	}
	return net, nil
}

// Quote fixa odds_locked e o payout potencial. Tem a assinatura de ledger.Quoter
// e roda dentro da unidade atômica do store, sobre o snapshot anterior ao incremento.
func Quote(m ledger.Market, outcome string, amount int64) (ledger.Quote, error) {
	odds, err := ImpliedOdds(m, outcome)
	if err != nil {
		return ledger.Quote{}, err
	}
	potential, err := PotentialPayout(amount, odds, m.FeePlatformBps, m.FeeOracleBps)
	if err != nil {
		return ledger.Quote{}, fmt.Errorf("%w: payout out of range", ledger.ErrInvalidAmount)
	}
	// odds fixas: o bruto do outcome inteiro precisa caber no limite de exposição
	if m.Pricing == ledger.PricingFixed {
		liability, err := money.MulOdds(m.Pools[outcome]+amount, odds)
		if err != nil || liability > ledger.MaxLiability {
			return ledger.Quote{}, fmt.Errorf("%w: market liability limit reached", ledger.ErrInvalidAmount)
		}
	}
	return ledger.Quote{Odds: odds, PotentialPayout: potential}, nil
}
