package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/bet-service/dto"
	"github.com/radieske/cup-betting-engine/internal/betting"
	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// retryAfterSeconds é o intervalo sugerido enquanto um mercado está em settling
const retryAfterSeconds = "1"

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindUnauthenticated:
		return http.StatusUnauthorized
	case ledger.KindUnauthorized:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindStateConflict, ledger.KindSettlementInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError traduz o erro para {error, kind, code}. Internos nunca vazam detalhes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	resp := dto.ErrorResponse{Error: err.Error(), Kind: string(kind)}
	if e := ledger.AsError(err); e != nil {
		resp.Code = e.Code
	}

	switch kind {
	case ledger.KindInternal:
		s.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		resp.Error = ledger.ErrInternal.Message
		resp.Code = ledger.ErrInternal.Code
	case ledger.KindSettlementInProgress:
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	var oc *betting.OddsChangedError
	if errors.As(err, &oc) {
		cur := oc.Current
		resp.CurrentOdds = &cur
	}
	writeJSON(w, statusFor(kind), resp)
}
