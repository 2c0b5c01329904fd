package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// MarketID: obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type     string `json:"type"`     // subscribe | unsubscribe | ping
	MarketID string `json:"marketId"` // requerido em subscribe/unsubscribe
}

// MarketUpdate é o que o hub entrega aos inscritos de um mercado
type MarketUpdate struct {
	MarketID string `json:"marketId"`
	Type     string `json:"type"`
	Payload  any    `json:"payload"`
}
