package api

import (
	"net/http"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/resolver"
	"github.com/go-chi/chi/v5"
)

func tokenPath(r *http.Request) []string {
	return []string{
		chi.URLParam(r, "country_code"),
		chi.URLParam(r, "party_id"),
		chi.URLParam(r, "token_uid"),
	}
}

// ListTokens GET /tokens
func (s *Server) ListTokens(w http.ResponseWriter, r *http.Request) {
	serveListing(s, w, r, ocpi.ModuleTokens, s.store.ListTokens())
}

// GetToken GET /tokens/{country_code}/{party_id}/{token_uid}
func (s *Server) GetToken(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveToken(tokenPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	writeData(w, http.StatusOK, res.Token)
}

// PutToken 新增或替换令牌
func (s *Server) PutToken(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveTokenForWrite(tokenPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	var token ocpi.Token
	if fault := s.decodeBody(w, r, &token); fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeToken(w, res, &token)
}

// PatchToken 局部更新令牌
func (s *Server) PatchToken(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveToken(tokenPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	body, fault := s.readBody(w, r)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	token, fault := overlay(res.Token, body)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeToken(w, res, token)
}

func (s *Server) storeToken(w http.ResponseWriter, res resolver.TokenResolution, token *ocpi.Token) {
	if !ocpi.Equal(token.CountryCode, res.Party.CountryCode) ||
		!ocpi.Equal(token.PartyID, res.Party.PartyID) ||
		!ocpi.Equal(token.UID, res.UID) {
		writeFault(w, ocpi.BadRequest(IdentityMismatch))
		return
	}
	if fault := s.validate(token); fault != nil {
		writeFault(w, fault)
		return
	}
	created := s.store.PutToken(token)
	stored, _ := s.store.GetToken(res.Party, res.UID)
	writeData(w, createdStatus(created), stored)
}

// DeleteToken 删除令牌
func (s *Server) DeleteToken(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveToken(tokenPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.store.RemoveToken(res.Party, res.UID)
	writeEmpty(w)
}
