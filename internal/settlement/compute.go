package settlement

import (
	"fmt"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/money"
)

// Compute é função pura do estado persistido (mercado, pools, apostas e intenção).
// Rodar duas vezes com a mesma entrada gera o mesmo registro.
func Compute(m ledger.Market, bets []ledger.Bet, intent ledger.SettlementIntent) (ledger.SettlementRecord, []ledger.PayoutUpdate, error) {
	if err := checkConsistency(m, bets); err != nil {
		return ledger.SettlementRecord{}, nil, err
	}

	rec := ledger.SettlementRecord{
		MarketID:  m.ID,
		TotalPool: m.TotalPool(),
		SettledAt: intent.At.UTC(),
	}

	if intent.Void {
		rec.Voided = true
		rec.VoidReason = intent.Reason
		updates := make([]ledger.PayoutUpdate, len(bets))
		for i, b := range bets {
			updates[i] = ledger.PayoutUpdate{BetID: b.ID, Status: ledger.BetVoid, Payout: b.Amount}
			rec.PayoutTotal += b.Amount
		}
		return rec, updates, nil
	}

	if !m.HasOutcome(intent.WinningOutcome) {
		return ledger.SettlementRecord{}, nil, fmt.Errorf("%w: %q", ledger.ErrInvalidOutcome, intent.WinningOutcome)
	}
	rec.WinningOutcome = intent.WinningOutcome

	switch m.Pricing {
	case ledger.PricingFixed:
		return computeFixed(m, bets, rec)
	default:
		return computeParimutuel(m, bets, rec)
	}
}

// computeParimutuel distribui payout_pool proporcionalmente ao stake vencedor.
// O resíduo de arredondamento vai para o fee da plataforma.
func computeParimutuel(m ledger.Market, bets []ledger.Bet, rec ledger.SettlementRecord) (ledger.SettlementRecord, []ledger.PayoutUpdate, error) {
	total := rec.TotalPool
	feePlatform := money.ApplyBps(total, m.FeePlatformBps, money.RoundDown)
	feeOracle := money.ApplyBps(total, m.FeeOracleBps, money.RoundDown)
	payoutPool := total - feePlatform - feeOracle
	winPool := m.Pools[rec.WinningOutcome]

	updates, paid := distribute(bets, rec.WinningOutcome, payoutPool, winPool, money.RoundHalfEven)
	// banker's pode arredondar para cima; se o fee da plataforma não cobre, trunca
	if feePlatform+payoutPool-paid < 0 {
		updates, paid = distribute(bets, rec.WinningOutcome, payoutPool, winPool, money.RoundDown)
	}

	rec.RoundingResidual = payoutPool - paid
	rec.FeePlatformAmount = feePlatform + rec.RoundingResidual
	rec.FeeOracleAmount = feeOracle
	rec.PayoutTotal = paid
	return rec, updates, nil
}

func distribute(bets []ledger.Bet, winner string, payoutPool, winPool int64, mode money.RoundingMode) ([]ledger.PayoutUpdate, int64) {
	updates := make([]ledger.PayoutUpdate, len(bets))
	var paid int64
	for i, b := range bets {
		u := ledger.PayoutUpdate{BetID: b.ID, Status: ledger.BetLost}
		if b.Outcome == winner && winPool > 0 {
			u.Status = ledger.BetWon
			u.Payout = money.MulDiv(payoutPool, b.Amount, winPool, mode)
			paid += u.Payout
		}
		updates[i] = u
	}
	return updates, paid
}

// computeFixed paga amount*odds_locked menos a parcela de fee de cada bucket.
// O que exceder o pool vira TreasuryDelta e é coberto pela tesouraria.
func computeFixed(m ledger.Market, bets []ledger.Bet, rec ledger.SettlementRecord) (ledger.SettlementRecord, []ledger.PayoutUpdate, error) {
	updates := make([]ledger.PayoutUpdate, len(bets))
	for i, b := range bets {
		u := ledger.PayoutUpdate{BetID: b.ID, Status: ledger.BetLost}
		if b.Outcome == rec.WinningOutcome {
			gross, err := money.MulOdds(b.Amount, b.OddsLocked)
			if err != nil {
				return ledger.SettlementRecord{}, nil, fmt.Errorf("%w: bet %s: %v", ledger.ErrInternal, b.ID, err)
			}
			sharePlatform := money.ApplyBps(gross, m.FeePlatformBps, money.RoundHalfEven)
			shareOracle := money.ApplyBps(gross, m.FeeOracleBps, money.RoundHalfEven)
			u.Status = ledger.BetWon
			u.Payout = gross - sharePlatform - shareOracle
			rec.FeePlatformAmount += sharePlatform
			rec.FeeOracleAmount += shareOracle
			rec.PayoutTotal += u.Payout
		}
		updates[i] = u
	}
	rec.TreasuryDelta = rec.PayoutTotal + rec.FeePlatformAmount + rec.FeeOracleAmount - rec.TotalPool
	return rec, updates, nil
}

// checkConsistency confere que os pools batem com a soma das apostas abertas
func checkConsistency(m ledger.Market, bets []ledger.Bet) error {
	sums := make(map[string]int64, len(m.Outcomes))
	for _, b := range bets {
		if b.MarketID != m.ID {
			return fmt.Errorf("%w: bet %s belongs to %s", ledger.ErrInternal, b.ID, b.MarketID)
		}
		if b.Status != ledger.BetOpen {
			return fmt.Errorf("%w: bet %s already %s", ledger.ErrInternal, b.ID, b.Status)
		}
		sums[b.Outcome] += b.Amount
	}
	for _, o := range m.Outcomes {
		if sums[o] != m.Pools[o] {
			return fmt.Errorf("%w: pool %s=%d but bets sum to %d", ledger.ErrInternal, o, m.Pools[o], sums[o])
		}
		delete(sums, o)
	}
	if len(sums) > 0 {
		return fmt.Errorf("%w: bets on unknown outcomes", ledger.ErrInternal)
	}
	return nil
}
