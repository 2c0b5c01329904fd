package fixtures

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
)

//go:embed worldcup.yaml
var defaultFile []byte

type File struct {
	FeePlatformBps *int64        `yaml:"fee_platform_bps"`
	FeeOracleBps   *int64        `yaml:"fee_oracle_bps"`
	Matches        []Match       `yaml:"matches"`
	Championship   *Championship `yaml:"championship"`
}

type Match struct {
	ID       string        `yaml:"id"`
	TeamA    string        `yaml:"team_a"`
	TeamB    string        `yaml:"team_b"`
	Group    string        `yaml:"group"`
	Venue    string        `yaml:"venue"`
	ClosesIn time.Duration `yaml:"closes_in"`
}

type Team struct {
	Name string `yaml:"name"`
	Odds string `yaml:"odds"`
}

type Championship struct {
	ID       string        `yaml:"id"`
	Title    string        `yaml:"title"`
	ClosesIn time.Duration `yaml:"closes_in"`
	Teams    []Team        `yaml:"teams"`
}

// Load lê o arquivo indicado ou, com path vazio, o arquivo embutido
func Load(path string) (File, error) {
	raw := defaultFile
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("read fixtures: %w", err)
		}
		raw = b
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return f, nil
}

// Specs converte o arquivo em mercados prontos para OpenMarket, com close_time relativo a now
func (f File) Specs(now time.Time) ([]market.Spec, error) {
	var out []market.Spec
	for _, m := range f.Matches {
		if m.ClosesIn <= 0 {
			return nil, fmt.Errorf("match %s: closes_in must be positive", m.ID)
		}
		out = append(out, market.Spec{
			ID:             m.ID,
			Kind:           ledger.MarketMatch,
			Pricing:        ledger.PricingParimutuel,
			Title:          m.TeamA + " vs " + m.TeamB,
			Group:          m.Group,
			Venue:          m.Venue,
			TeamA:          m.TeamA,
			TeamB:          m.TeamB,
			FeePlatformBps: f.FeePlatformBps,
			FeeOracleBps:   f.FeeOracleBps,
			OpenTime:       now,
			CloseTime:      now.Add(m.ClosesIn),
		})
	}

	if c := f.Championship; c != nil {
		if c.ClosesIn <= 0 {
			return nil, fmt.Errorf("championship %s: closes_in must be positive", c.ID)
		}
		spec := market.Spec{
			ID:             c.ID,
			Kind:           ledger.MarketChampionship,
			Pricing:        ledger.PricingFixed,
			Title:          c.Title,
			FixedOdds:      make(map[string]decimal.Decimal, len(c.Teams)),
			FeePlatformBps: f.FeePlatformBps,
			FeeOracleBps:   f.FeeOracleBps,
			OpenTime:       now,
			CloseTime:      now.Add(c.ClosesIn),
		}
		for _, t := range c.Teams {
			odds, err := decimal.NewFromString(t.Odds)
			if err != nil {
				return nil, fmt.Errorf("team %s: odds %q: %w", t.Name, t.Odds, err)
			}
			spec.Outcomes = append(spec.Outcomes, t.Name)
			spec.FixedOdds[t.Name] = odds
		}
		out = append(out, spec)
	}
	return out, nil
}

type Opener interface {
	OpenMarket(ctx context.Context, spec market.Spec) (ledger.Market, error)
}

// Seed abre os mercados que ainda não existem. Mercado já existente não é erro (reinício do serviço).
func Seed(ctx context.Context, o Opener, specs []market.Spec, log *zap.Logger) (int, error) {
	opened := 0
	for _, s := range specs {
		_, err := o.OpenMarket(ctx, s)
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ledger.ErrConflict):
			log.Debug("fixture already present", zap.String("market_id", s.ID))
		default:
			return opened, fmt.Errorf("seed %s: %w", s.ID, err)
		}
	}
	return opened, nil
}
