package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"keygate/internal/platform/config"
	"keygate/internal/platform/models"
)

// LicenseClaims is the full claim set embedded in an issued credential. The
// token is a stateless snapshot of license state at mint time; "tv" against
// the license's current token_version is the sole revocation signal.
type LicenseClaims struct {
	LicenseID    string `json:"lic"`
	DeviceID     string `json:"dev"`
	Plan         string `json:"plan"`
	TokenVersion int    `json:"tv"`
	Product      string `json:"prod"`
	jwt.RegisteredClaims
}

type TokenService struct {
	config     config.JWTConfig
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewTokenService loads the RS256 keypair once at startup. Key material is
// immutable for the life of the process; rotation is a restart.
func NewTokenService(cfg config.JWTConfig) (*TokenService, error) {
	privPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &TokenService{config: cfg, privateKey: privateKey, publicKey: publicKey}, nil
}

// Issue mints a credential for the license/device pair. The license must
// already have a resolved expiry; the service layer sets one before calling.
func (s *TokenService) Issue(lic *models.License, deviceID string) (string, error) {
	if lic.ExpiresAt == nil {
		return "", errors.New("license has no expiry")
	}

	claims := LicenseClaims{
		LicenseID:    lic.ID,
		DeviceID:     deviceID,
		Plan:         lic.Plan,
		TokenVersion: lic.TokenVersion,
		Product:      s.config.Product,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "license:" + lic.ID,
			Issuer:    s.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Unix(*lic.ExpiresAt, 0)),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}
	return token.SignedString(s.privateKey)
}

// Verify performs structural verification only: signature, exp/nbf bounds and
// issuer. Registry state is cross-checked by the caller afterwards.
func (s *TokenService) Verify(tokenString string) (*LicenseClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LicenseClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return s.publicKey, nil
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(s.config.Issuer),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*LicenseClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
