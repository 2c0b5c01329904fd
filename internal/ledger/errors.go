package ledger

import "errors"

// Kind é a categoria estável (legível por máquina) devolvida aos clientes
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindStateConflict        Kind = "state_conflict"
	KindUnauthenticated      Kind = "unauthenticated"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindSettlementInProgress Kind = "settlement_in_progress"
	KindInternal             Kind = "internal"
)

// Error carrega o kind, um código específico e a mensagem exposta ao cliente
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidMarket  = &Error{KindValidation, "invalid_market", "invalid market definition"}
	ErrInvalidOutcome = &Error{KindValidation, "invalid_outcome", "invalid outcome"}
	ErrInvalidAmount  = &Error{KindValidation, "invalid_amount", "amount must be a positive integer"}
	ErrInvalidAddress = &Error{KindValidation, "invalid_address", "invalid wallet address"}

	ErrMarketNotFound     = &Error{KindNotFound, "market_not_found", "market not found"}
	ErrBetNotFound        = &Error{KindNotFound, "bet_not_found", "bet not found"}
	ErrSettlementNotFound = &Error{KindNotFound, "settlement_not_found", "settlement not found"}

	ErrMarketClosed  = &Error{KindStateConflict, "market_closed", "market closed"}
	ErrMarketLocked  = &Error{KindStateConflict, "market_locked", "market locked"}
	ErrMarketOpen    = &Error{KindStateConflict, "market_open", "market must be locked before settlement"}
	ErrMarketSettled = &Error{KindStateConflict, "market_settled", "market already settled"}
	ErrMarketVoided  = &Error{KindStateConflict, "market_voided", "market voided"}
	ErrOddsChanged   = &Error{KindStateConflict, "odds_changed", "odds changed"}
	ErrConflict      = &Error{KindStateConflict, "conflict", "conflicting write"}

	ErrSettlementInProgress = &Error{KindSettlementInProgress, "settlement_in_progress", "settlement in progress, retry later"}

	ErrUnauthenticated = &Error{KindUnauthenticated, "unauthenticated", "authentication required"}
	ErrUnauthorized    = &Error{KindUnauthorized, "unauthorized", "not allowed"}

	ErrInternal = &Error{KindInternal, "internal", "internal error"}
)

// KindOf resolve o kind de qualquer erro; erros desconhecidos são internos
func KindOf(err error) Kind {
	if e := AsError(err); e != nil {
		return e.Kind
	}
	return KindInternal
}

// AsError devolve o primeiro *Error da cadeia, ou nil
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
