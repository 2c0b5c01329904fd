package ledger

import (
	"context"
	"time"
)

// Store é o dono exclusivo de mercados, pools, apostas e registros de liquidação.
// Toda escrita que toca pool ou status é uma única operação atômica.
type Store interface {
	CreateMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]Market, error)
	ListOpenMarkets(ctx context.Context) ([]Market, error)

	// RecordBet grava a aposta e incrementa o pool na mesma unidade atômica.
	// Retorna created=false quando (bettor, idempotency key) já existia.
	RecordBet(ctx context.Context, d BetDraft, quote Quoter) (bet Bet, created bool, err error)
	GetBet(ctx context.Context, id string) (Bet, error)
	GetBetsForUser(ctx context.Context, bettor string) ([]Bet, error)
	GetBetsForMarket(ctx context.Context, marketID string) ([]Bet, error)

	LockMarket(ctx context.Context, id string, now time.Time) (Market, error)
	LockExpired(ctx context.Context, now time.Time) ([]string, error)

	// BeginSettlement faz CAS de status para settling gravando a intenção.
	// Liquidação normal só parte de locked; void parte de open ou locked.
	BeginSettlement(ctx context.Context, id string, intent SettlementIntent) (Market, error)
	// ApplySettlement é o batch atômico final: settling -> settled/voided,
	// resolução de cada aposta e gravação do registro.
	ApplySettlement(ctx context.Context, rec SettlementRecord, updates []PayoutUpdate) error
	GetSettlement(ctx context.Context, marketID string) (SettlementRecord, error)
	ListSettling(ctx context.Context, since time.Time) ([]string, error)

	MarkPaid(ctx context.Context, betID string, at time.Time) (Bet, error)

	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	UserStats(ctx context.Context, bettor string) (UserStats, error)
}

// fromStatuses devolve os status a partir dos quais a intenção pode entrar em settling
func fromStatuses(intent SettlementIntent) []MarketStatus {
	if intent.Void {
		return []MarketStatus{StatusOpen, StatusLocked}
	}
	return []MarketStatus{StatusLocked}
}
