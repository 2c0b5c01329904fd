package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// ResolveOutcome é o único ponto que traduz formatos legados de outcome para o rótulo canônico.
// Partida: "A"/"draw"/"B", aliases teamA/teamB/home/away ou índice 0/1/2.
// Campeonato: nome do time ou posição 1..N na lista de outcomes.
func ResolveOutcome(m ledger.Market, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if m.HasOutcome(raw) {
		return raw, nil
	}

	if m.Kind == ledger.MarketMatch {
		switch strings.ToLower(raw) {
		case "a", "teama", "team_a", "home", "0":
			return ledger.OutcomeA, nil
		case "draw", "x", "1":
			return ledger.OutcomeDraw, nil
		case "b", "teamb", "team_b", "away", "2":
			return ledger.OutcomeB, nil
		}
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidOutcome, raw)
	}

	if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(m.Outcomes) {
		return m.Outcomes[n-1], nil
	}
	for _, o := range m.Outcomes {
		if strings.EqualFold(o, raw) {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ledger.ErrInvalidOutcome, raw)
}
