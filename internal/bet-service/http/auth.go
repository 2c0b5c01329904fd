package httpapi

import (
	"net/http"

	"github.com/radieske/cup-betting-engine/internal/auth"
	"github.com/radieske/cup-betting-engine/internal/bet-service/dto"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Gate.Login(r.Context(), req.WalletAddress, req.Signature, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.LoginResponse{
		Success:   true,
		Token:     sess.Token,
		User:      dto.UserView{Address: sess.Address},
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.Gate.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
