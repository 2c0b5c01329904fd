package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/auth"
	"github.com/radieske/cup-betting-engine/internal/betting"
	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
	"github.com/radieske/cup-betting-engine/internal/settlement"
)

// ViewCache guarda visões prontas de mercado (Redis no deploy, opcional em teste)
type ViewCache interface {
	Get(ctx context.Context, id string, dst any) (bool, error)
	Set(ctx context.Context, id string, v any) error
}

// StatusNotifier é avisado depois de lock/settle/void feitos pelo operador
type StatusNotifier interface {
	StatusChanged(ctx context.Context, m ledger.Market) error
}

type Server struct {
	Log        *zap.Logger
	Store      ledger.Store // leituras (leaderboard, settlement)
	Markets    *market.Engine
	Bets       *betting.Service
	Settlement *settlement.Engine
	Gate       *auth.Gate
	Cache      ViewCache
	Notifier   StatusNotifier
	WS         http.HandlerFunc
	AdminToken string
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/matches", s.listMatches)
	r.Get("/matches/groups", s.listGroups)
	r.Get("/matches/{id}", s.getMatch)
	r.Get("/championship", s.getChampionship)
	r.Get("/leaderboard", s.leaderboard)

	r.Post("/auth/login", s.login)
	r.Post("/auth/logout", s.logout)

	r.Post("/bets", s.placeBet)
	r.Post("/bets/championship", s.placeChampionshipBet)
	r.Get("/bets/user/{address}", s.betsForUser)
	r.Get("/bets/{id}", s.getBet)
	r.Get("/users/{address}/stats", s.userStats)

	if s.WS != nil {
		r.Get("/ws", s.WS)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/markets", s.openMarket)
		r.Post("/markets/{id}/lock", s.lockMarket)
		r.Post("/markets/{id}/settle", s.settleMarket)
		r.Post("/markets/{id}/void", s.voidMarket)
		r.Post("/markets/{id}/recover", s.recoverMarket)
		r.Get("/markets/{id}/settlement", s.getSettlement)
		r.Post("/bets/{id}/paid", s.markPaid)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.AdminTokenMatches(auth.BearerToken(r), s.AdminToken) {
			s.writeError(w, r, ledger.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errBadJSON = &ledger.Error{Kind: ledger.KindValidation, Code: "bad_request", Message: "invalid JSON body"}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errBadJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// notifyStatus é best effort: a transição já foi gravada
func (s *Server) notifyStatus(r *http.Request, id string) {
	if s.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	m, err := s.Store.GetMarket(ctx, id)
	if err == nil {
		err = s.Notifier.StatusChanged(ctx, m)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.Log.Warn("status notify failed", zap.String("market_id", id), zap.Error(err))
	}
}
