package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"variagen/models"
)

var (
	ErrInvalidToken     = errors.New("invalid token format")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidIssuer    = errors.New("invalid issuer")
)

// TokenIssuer is the iss claim of every download token.
const TokenIssuer = "variagen"

// minSecretLen is the HS256 key size go-jose accepts without complaint.
const minSecretLen = 32

// VerifyConfig holds verification configuration
type VerifyConfig struct {
	SecretKey []byte
	ClockSkew time.Duration // Optional: allow clock skew (default 0)
	Now       func() time.Time
}

// SignDownloadToken returns an HS256 token granting access to one job's
// archive until ttl elapses.
func SignDownloadToken(secret []byte, jobID, archiveName string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) < minSecretLen {
		return "", time.Time{}, fmt.Errorf("signing secret must be at least %d bytes", minSecretLen)
	}
	if jobID == "" {
		return "", time.Time{}, errors.New("job id cannot be empty")
	}

	expires := now.Add(ttl)
	claims := models.DownloadClaims{
		Issuer:    TokenIssuer,
		Subject:   jobID,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
		Archive:   archiveName,
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create signer: %w", err)
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create JWT: %w", err)
	}
	return token, time.Unix(claims.ExpiresAt, 0), nil
}

// VerifyDownloadToken checks signature, issuer and validity window and
// returns the claims.
func VerifyDownloadToken(tokenString string, config VerifyConfig) (*models.DownloadClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	if len(config.SecretKey) == 0 {
		return nil, errors.New("no verification key provided")
	}

	tok, err := jwt.ParseSigned(tokenString, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &models.DownloadClaims{}
	if err := tok.Claims(config.SecretKey, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	nowFn := time.Now
	if config.Now != nil {
		nowFn = config.Now
	}
	now := nowFn().Unix()
	clockSkew := int64(config.ClockSkew.Seconds())

	if claims.ExpiresAt == 0 || claims.ExpiresAt < (now-clockSkew) {
		return nil, ErrTokenExpired
	}
	if claims.IssuedAt > (now + clockSkew) {
		return nil, ErrTokenNotYetValid
	}
	if claims.Issuer != TokenIssuer {
		return nil, fmt.Errorf("%w: expected '%s', got '%s'", ErrInvalidIssuer, TokenIssuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
