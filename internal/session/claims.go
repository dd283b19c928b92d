package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"report-ledger/internal/domain"
)

// accessClaims are the identity claims carried by the backend's access
// token. The token is read unverified: this process has no signing
// secret and the claims feed UI-side privilege derivation only, never
// enforcement.
type accessClaims struct {
	Email       string `json:"email"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role  string `json:"role"`
		Admin bool   `json:"admin"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

func (c accessClaims) principal() domain.Principal {
	p := domain.Principal{
		ID:        c.Subject,
		Email:     c.Email,
		Role:      c.Role,
		AdminFlag: c.AppMetadata.Admin,
	}
	if c.AppMetadata.Role != "" {
		p.Role = c.AppMetadata.Role
	}
	return p
}

func parseAccessClaims(token string) (*accessClaims, error) {
	var claims accessClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("access token has no subject")
	}
	return &claims, nil
}
