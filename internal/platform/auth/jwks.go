package auth

import (
	"encoding/base64"
	"math/big"
)

type JWK struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS exposes the verification key in key-discovery form so clients
// can check credentials without calling back to the service.
func (s *TokenService) PublicJWKS() JWKS {
	kid := s.config.KeyID
	if kid == "" {
		kid = "v1"
	}

	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(s.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.publicKey.E)).Bytes()),
		Alg: "RS256",
		Use: "sig",
		Kid: kid,
	}}}
}
