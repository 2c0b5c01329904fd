package topics

const (
	// Apostas
	BetPlaced = "bet_placed"

	// Resultados do oráculo (entrada do settlement-worker)
	MarketResults = "market_results"

	// Liquidação
	MarketSettled = "market_settled"

	// DLQs
	MarketResultsDLQ = "market_results_dlq"
)
