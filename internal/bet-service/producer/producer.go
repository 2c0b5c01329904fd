package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/pkg/contracts/events"
)

// MessageWriter é o subconjunto de *kafka.Writer usado aqui
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publica bet_placed e market_settled, sempre com chave = market_id
type KafkaPublisher struct {
	BetPlaced     MessageWriter
	MarketSettled MessageWriter
	Now           func() time.Time
}

func NewKafkaPublisher(betPlaced, marketSettled MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{BetPlaced: betPlaced, MarketSettled: marketSettled, Now: time.Now}
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, b ledger.Bet) error {
	if p.BetPlaced == nil {
		return nil
	}
	e := events.BetPlaced{
		BetID:      b.ID,
		MarketID:   b.MarketID,
		Outcome:    b.Outcome,
		Bettor:     b.Bettor,
		Amount:     b.Amount,
		OddsLocked: b.OddsLocked.String(),
		PlacedAt:   b.PlacedAt,
		TsUnixMs:   p.now().UnixMilli(),
	}
	return p.write(ctx, p.BetPlaced, b.MarketID, e)
}

func (p *KafkaPublisher) PublishMarketSettled(ctx context.Context, rec ledger.SettlementRecord) error {
	if p.MarketSettled == nil {
		return nil
	}
	e := events.MarketSettled{
		MarketID:          rec.MarketID,
		WinningOutcome:    rec.WinningOutcome,
		Voided:            rec.Voided,
		VoidReason:        rec.VoidReason,
		TotalPool:         rec.TotalPool,
		FeePlatformAmount: rec.FeePlatformAmount,
		FeeOracleAmount:   rec.FeeOracleAmount,
		PayoutTotal:       rec.PayoutTotal,
		RoundingResidual:  rec.RoundingResidual,
		TreasuryDelta:     rec.TreasuryDelta,
		SettledAt:         rec.SettledAt,
		TsUnixMs:          p.now().UnixMilli(),
	}
	return p.write(ctx, p.MarketSettled, rec.MarketID, e)
}

func (p *KafkaPublisher) write(ctx context.Context, w MessageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b, Time: p.now()})
}

func (p *KafkaPublisher) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
