package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// Migrate cria as tabelas do ledger se ainda não existirem
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// Postgres implementa Store com database/sql + lib/pq.
// Escritas concorrentes no mesmo mercado serializam no lock da linha em markets.
type Postgres struct{ db *sql.DB }

// NewPostgres retorna uma instância do ledger em Postgres
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const marketCols = `id, kind, pricing, status, title, group_label, venue, team_a, team_b, outcomes,
	fee_platform_bps, fee_oracle_bps, open_time, close_time,
	settling_outcome, settling_void, void_reason, settling_since, version`

const betCols = `id, market_id, outcome, bettor, amount, odds_locked, potential_payout, payout,
	status, result, idempotency_key, placed_at, settled_at, paid_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(r rowScanner) (Market, error) {
	var (
		m       Market
		since   sql.NullTime
		kind    string
		pricing string
		status  string
	)
	err := r.Scan(&m.ID, &kind, &pricing, &status, &m.Title, &m.Group, &m.Venue, &m.TeamA, &m.TeamB,
		pq.Array(&m.Outcomes), &m.FeePlatformBps, &m.FeeOracleBps, &m.OpenTime, &m.CloseTime,
		&m.SettlingOutcome, &m.SettlingVoid, &m.VoidReason, &since, &m.Version)
	if err != nil {
		return Market{}, err
	}
	m.Kind, m.Pricing, m.Status = MarketKind(kind), Pricing(pricing), MarketStatus(status)
	if since.Valid {
		m.SettlingSince = since.Time
	}
	m.Pools = make(map[string]int64, len(m.Outcomes))
	return m, nil
}

func scanBet(r rowScanner) (Bet, error) {
	var (
		b       Bet
		status  string
		result  string
		key     sql.NullString
		settled sql.NullTime
		paid    sql.NullTime
	)
	err := r.Scan(&b.ID, &b.MarketID, &b.Outcome, &b.Bettor, &b.Amount, &b.OddsLocked, &b.PotentialPayout,
		&b.Payout, &status, &result, &key, &b.PlacedAt, &settled, &paid)
	if err != nil {
		return Bet{}, err
	}
	b.Status, b.Result = BetStatus(status), BetStatus(result)
	b.IdempotencyKey = key.String
	if settled.Valid {
		b.SettledAt = settled.Time
	}
	if paid.Valid {
		b.PaidAt = paid.Time
	}
	return b, nil
}

// attachPools carrega pools e odds fixas para os mercados informados
func attachPools(ctx context.Context, q querier, markets []Market) error {
	if len(markets) == 0 {
		return nil
	}
	idx := make(map[string]int, len(markets))
	ids := make([]string, len(markets))
	for i, m := range markets {
		idx[m.ID] = i
		ids[i] = m.ID
	}
	rows, err := q.QueryContext(ctx,
		`SELECT market_id, outcome, staked_total, fixed_odds FROM market_pools WHERE market_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			marketID, outcome string
			staked            int64
			odds              decimal.NullDecimal
		)
		if err := rows.Scan(&marketID, &outcome, &staked, &odds); err != nil {
			return err
		}
		m := &markets[idx[marketID]]
		m.Pools[outcome] = staked
		if odds.Valid {
			if m.FixedOdds == nil {
				m.FixedOdds = make(map[string]decimal.Decimal)
			}
			m.FixedOdds[outcome] = odds.Decimal
		}
	}
	return rows.Err()
}

func loadMarket(ctx context.Context, q querier, id string, forUpdate bool) (Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return Market{}, fmt.Errorf("load market %s: %w", id, err)
	}
	ms := []Market{m}
	if err := attachPools(ctx, q, ms); err != nil {
		return Market{}, fmt.Errorf("load pools %s: %w", id, err)
	}
	return ms[0], nil
}

func (p *Postgres) CreateMarket(ctx context.Context, m Market) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO markets (id, kind, pricing, status, title, group_label, venue, team_a, team_b, outcomes,
			fee_platform_bps, fee_oracle_bps, open_time, close_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, string(m.Kind), string(m.Pricing), string(m.Status), m.Title, m.Group, m.Venue, m.TeamA, m.TeamB,
		pq.Array(m.Outcomes), m.FeePlatformBps, m.FeeOracleBps, m.OpenTime, m.CloseTime)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: market %s exists", ErrConflict, m.ID)
	}
	if err != nil {
		return fmt.Errorf("insert market: %w", err)
	}

	for _, o := range m.Outcomes {
		odds := decimal.NullDecimal{}
		if v, ok := m.FixedOdds[o]; ok {
			odds = decimal.NullDecimal{Decimal: v, Valid: true}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO market_pools (market_id, outcome, staked_total, fixed_odds) VALUES ($1,$2,$3,$4)`,
			m.ID, o, m.Pools[o], odds); err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetMarket(ctx context.Context, id string) (Market, error) {
	return loadMarket(ctx, p.db, id, false)
}

func (p *Postgres) ListMarkets(ctx context.Context, f MarketFilter) ([]Market, error) {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+marketCols+` FROM markets
		WHERE ($1 = '' OR kind = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY close_time, id
		LIMIT NULLIF($3, 0)`,
		string(f.Kind), pq.Array(statuses), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()
	var out []Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachPools(ctx, p.db, out); err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListOpenMarkets(ctx context.Context) ([]Market, error) {
	return p.ListMarkets(ctx, MarketFilter{Statuses: []MarketStatus{StatusOpen}})
}

// RecordBet trava a linha do mercado (SELECT ... FOR UPDATE), cota com o snapshot
// anterior ao incremento, incrementa o pool e grava a aposta numa única transação.
func (p *Postgres) RecordBet(ctx context.Context, d BetDraft, quote Quoter) (Bet, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Bet{}, false, err
	}
	defer tx.Rollback()

	m, err := loadMarket(ctx, tx, d.MarketID, true)
	if err != nil {
		return Bet{}, false, err
	}

	if d.IdempotencyKey != "" {
		existing, err := scanBet(tx.QueryRowContext(ctx,
			`SELECT `+betCols+` FROM bets WHERE bettor = $1 AND idempotency_key = $2`,
			d.Bettor, d.IdempotencyKey))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Bet{}, false, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	if err := checkAccepting(m, d); err != nil {
		return Bet{}, false, err
	}
	q, err := quote(m, d.Outcome, d.Amount)
	if err != nil {
		return Bet{}, false, err
	}
	b := newBet(d, q)

	if _, err = tx.ExecContext(ctx,
		`UPDATE market_pools SET staked_total = staked_total + $1 WHERE market_id = $2 AND outcome = $3`,
		b.Amount, b.MarketID, b.Outcome); err != nil {
		if isOutOfRange(err) {
			return Bet{}, false, fmt.Errorf("%w: pool out of range", ErrInvalidAmount)
		}
		return Bet{}, false, fmt.Errorf("increment pool: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE markets SET version = version + 1 WHERE id = $1`, b.MarketID); err != nil {
		return Bet{}, false, fmt.Errorf("bump market version: %w", err)
	}

	key := sql.NullString{String: b.IdempotencyKey, Valid: b.IdempotencyKey != ""}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bets (id, market_id, outcome, bettor, amount, odds_locked, potential_payout, status, idempotency_key, placed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.ID, b.MarketID, b.Outcome, b.Bettor, b.Amount, b.OddsLocked, b.PotentialPayout, string(b.Status), key, b.PlacedAt)
	if isUniqueViolation(err) {
		return Bet{}, false, fmt.Errorf("%w: duplicate bet", ErrConflict)
	}
	if isOutOfRange(err) {
		return Bet{}, false, fmt.Errorf("%w: value out of range", ErrInvalidAmount)
	}
	if err != nil {
		return Bet{}, false, fmt.Errorf("insert bet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Bet{}, false, err
	}
	return b, true, nil
}

func (p *Postgres) GetBet(ctx context.Context, id string) (Bet, error) {
	b, err := scanBet(p.db.QueryRowContext(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Bet{}, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	return b, err
}

func (p *Postgres) queryBets(ctx context.Context, query string, args ...any) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) GetBetsForUser(ctx context.Context, bettor string) ([]Bet, error) {
	return p.queryBets(ctx, `SELECT `+betCols+` FROM bets WHERE bettor = $1 ORDER BY placed_at, seq`, bettor)
}

func (p *Postgres) GetBetsForMarket(ctx context.Context, marketID string) ([]Bet, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, marketID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return p.queryBets(ctx, `SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY placed_at, seq`, marketID)
}

// casConflict monta o erro de CAS que falhou, distinguindo mercado inexistente
func (p *Postgres) casConflict(ctx context.Context, id string) (Market, error) {
	m, err := p.GetMarket(ctx, id)
	if err != nil {
		return Market{}, err
	}
	return m, fmt.Errorf("%w: market %s is %s", ErrConflict, id, m.Status)
}

func (p *Postgres) LockMarket(ctx context.Context, id string, _ time.Time) (Market, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE markets SET status = 'locked', version = version + 1 WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return Market{}, fmt.Errorf("lock market: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.casConflict(ctx, id)
	}
	return p.GetMarket(ctx, id)
}

func (p *Postgres) LockExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE markets SET status = 'locked', version = version + 1
		WHERE status = 'open' AND close_time <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("lock expired: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) BeginSettlement(ctx context.Context, id string, intent SettlementIntent) (Market, error) {
	from := fromStatuses(intent)
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE markets
		SET status = 'settling', settling_outcome = $2, settling_void = $3, void_reason = $4,
		    settling_since = $5, version = version + 1
		WHERE id = $1 AND status = ANY($6::text[])`,
		id, intent.WinningOutcome, intent.Void, intent.Reason, intent.At, pq.Array(statuses))
	if err != nil {
		return Market{}, fmt.Errorf("begin settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.casConflict(ctx, id)
	}
	return p.GetMarket(ctx, id)
}

func (p *Postgres) ApplySettlement(ctx context.Context, rec SettlementRecord, updates []PayoutUpdate) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	final := StatusSettled
	if rec.Voided {
		final = StatusVoided
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET status = $2, version = version + 1 WHERE id = $1 AND status = 'settling'`,
		rec.MarketID, string(final))
	if err != nil {
		return fmt.Errorf("finalize market: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: market %s is not settling", ErrConflict, rec.MarketID)
	}

	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE bets SET status = $1, result = $1, payout = $2, settled_at = $3
			WHERE id = $4 AND market_id = $5 AND status = 'open'`,
			string(u.Status), u.Payout, rec.SettledAt, u.BetID, rec.MarketID)
		if err != nil {
			return fmt.Errorf("resolve bet %s: %w", u.BetID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("%w: bet %s is not open", ErrConflict, u.BetID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_records (market_id, winning_outcome, voided, void_reason, total_pool,
			fee_platform_amount, fee_oracle_amount, payout_total, rounding_residual, treasury_delta, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.MarketID, rec.WinningOutcome, rec.Voided, rec.VoidReason, rec.TotalPool,
		rec.FeePlatformAmount, rec.FeeOracleAmount, rec.PayoutTotal, rec.RoundingResidual, rec.TreasuryDelta, rec.SettledAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: settlement for %s exists", ErrConflict, rec.MarketID)
	}
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) GetSettlement(ctx context.Context, marketID string) (SettlementRecord, error) {
	var r SettlementRecord
	err := p.db.QueryRowContext(ctx, `
		SELECT market_id, winning_outcome, voided, void_reason, total_pool, fee_platform_amount,
		       fee_oracle_amount, payout_total, rounding_residual, treasury_delta, settled_at
		FROM settlement_records WHERE market_id = $1`, marketID).
		Scan(&r.MarketID, &r.WinningOutcome, &r.Voided, &r.VoidReason, &r.TotalPool, &r.FeePlatformAmount,
			&r.FeeOracleAmount, &r.PayoutTotal, &r.RoundingResidual, &r.TreasuryDelta, &r.SettledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SettlementRecord{}, fmt.Errorf("%w: %s", ErrSettlementNotFound, marketID)
	}
	return r, err
}

func (p *Postgres) ListSettling(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM markets WHERE status = 'settling' AND settling_since <= $1 ORDER BY id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) MarkPaid(ctx context.Context, betID string, at time.Time) (Bet, error) {
	b, err := scanBet(p.db.QueryRowContext(ctx, `
		UPDATE bets SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status IN ('won', 'void')
		RETURNING `+betCols, betID, at))
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := p.GetBet(ctx, betID)
		if gerr != nil {
			return Bet{}, gerr
		}
		return cur, fmt.Errorf("%w: bet %s is %s", ErrConflict, betID, cur.Status)
	}
	return b, err
}

func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bettor,
		       COALESCE(SUM(payout) FILTER (WHERE result = 'won'), 0) AS winnings,
		       COUNT(*) AS bets
		FROM bets
		GROUP BY bettor
		ORDER BY winnings DESC, bettor
		LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Bettor, &e.Winnings, &e.Bets); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) UserStats(ctx context.Context, bettor string) (UserStats, error) {
	st := UserStats{Bettor: bettor}
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'open'),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(potential_payout) FILTER (WHERE status = 'open'), 0),
		       COALESCE(SUM(payout) FILTER (WHERE result = 'won'), 0)
		FROM bets WHERE bettor = $1`, bettor).
		Scan(&st.TotalBets, &st.ActiveBets, &st.TotalStaked, &st.PotentialWins, &st.TotalWon)
	return st, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// 22003 numeric_value_out_of_range
func isOutOfRange(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22003"
}

var _ Store = (*Postgres)(nil)
