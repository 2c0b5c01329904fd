package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/pkg/contracts/events"
)

// Reader é o subconjunto de *kafka.Reader usado: fetch explícito e commit só depois de processar
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// MarketLocker é o market.Engine (lock idempotente)
type MarketLocker interface {
	LockMarket(ctx context.Context, id string) (ledger.Market, error)
}

// Settler é o settlement.Engine
type Settler interface {
	Settle(ctx context.Context, marketID, outcome string) (ledger.SettlementRecord, error)
	Void(ctx context.Context, marketID, reason string) (ledger.SettlementRecord, error)
}

// Processor consome market_results: trava o mercado e liquida (ou anula).
// Resultados repetidos são seguros porque Settle/Void são idempotentes.
type Processor struct {
	Reader  Reader
	DLQ     Writer // opcional
	Markets MarketLocker
	Settler Settler
	Log     *zap.Logger

	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration // teto da espera entre reprocessamentos da mesma mensagem

	OnProcessed func(result string) // métricas: settled | voided | dlq
}

func NewProcessor(r Reader, dlq Writer, markets MarketLocker, settler Settler, log *zap.Logger) *Processor {
	return &Processor{
		Reader:     r,
		DLQ:        dlq,
		Markets:    markets,
		Settler:    settler,
		Log:        log,
		Retries:    3,
		Backoff:    300 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Run consome até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		// commit de um offset posterior confirma os anteriores: a mesma mensagem é
		// reprocessada até dar certo, nunca pulada
		for attempt := 1; ; attempt++ {
			err := p.Handle(ctx, msg)
			if err == nil {
				break
			}
			p.Log.Error("process market result",
				zap.String("key", string(msg.Key)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !sleep(ctx, p.redeliveryDelay(attempt)) {
				return ctx.Err()
			}
		}
		if err := p.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			p.Log.Warn("kafka commit", zap.Error(err))
		}
	}
}

// Handle processa uma mensagem. Erro de retorno significa "não confirme o offset".
func (p *Processor) Handle(ctx context.Context, msg kafkago.Message) error {
	var res events.MarketResult
	if err := json.Unmarshal(msg.Value, &res); err != nil {
		return p.deadLetter(ctx, msg, fmt.Errorf("decode: %w", err))
	}
	if res.MarketID == "" || (!res.Void && res.WinningOutcome == "") {
		return p.deadLetter(ctx, msg, errors.New("market_id and winning_outcome (or void) are required"))
	}

	var err error
	for attempt := 0; ; attempt++ {
		var rec ledger.SettlementRecord
		rec, err = p.apply(ctx, res)
		if err == nil {
			result := "settled"
			if rec.Voided {
				result = "voided"
			}
			p.Log.Info("market result applied",
				zap.String("market_id", res.MarketID),
				zap.String("result", result),
				zap.Int64("payout_total", rec.PayoutTotal))
			p.processed(result)
			return nil
		}
		if !retryable(err) || attempt >= p.Retries {
			break
		}
		p.Log.Warn("market result retry",
			zap.String("market_id", res.MarketID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if !sleep(ctx, time.Duration(attempt+1)*p.Backoff) {
			return ctx.Err()
		}
	}
	return p.deadLetter(ctx, msg, err)
}

func (p *Processor) apply(ctx context.Context, res events.MarketResult) (ledger.SettlementRecord, error) {
	if res.Void {
		reason := res.Reason
		if reason == "" {
			reason = "oracle void"
		}
		return p.Settler.Void(ctx, res.MarketID, reason)
	}
	// resultado pode chegar antes do auto-lock; settled/voided/settling são resolvidos pelo Settle
	if _, err := p.Markets.LockMarket(ctx, res.MarketID); err != nil {
		switch ledger.KindOf(err) {
		case ledger.KindStateConflict, ledger.KindSettlementInProgress:
		default:
			return ledger.SettlementRecord{}, err
		}
	}
	return p.Settler.Settle(ctx, res.MarketID, res.WinningOutcome)
}

// retryable: só falhas transitórias. Erros de validação/estado nunca mudam com retry.
func retryable(err error) bool {
	switch ledger.KindOf(err) {
	case ledger.KindSettlementInProgress, ledger.KindInternal:
		return true
	}
	return false
}

// deadLetter envia a mensagem original para a DLQ. Sem DLQ configurada, devolve o erro (sem commit).
func (p *Processor) deadLetter(ctx context.Context, msg kafkago.Message, cause error) error {
	p.Log.Error("market result to dlq", zap.String("key", string(msg.Key)), zap.Error(cause))
	if p.DLQ == nil {
		return cause
	}
	dl := kafkago.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafkago.Header{
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "kind", Value: []byte(ledger.KindOf(cause))},
		},
		Time: time.Now(),
	}
	if err := p.DLQ.WriteMessages(ctx, dl); err != nil {
		return fmt.Errorf("write dlq: %w", err)
	}
	p.processed("dlq")
	return nil
}

func (p *Processor) redeliveryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * p.Backoff
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p *Processor) processed(result string) {
	if p.OnProcessed != nil {
		p.OnProcessed(result)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
