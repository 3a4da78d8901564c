package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"webcall/internal/credentials"
	"webcall/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the fixed identity every token is issued for.
const Identity = "web-client"

// DefaultTTL is the access token validity window.
const DefaultTTL = time.Hour

// MissingCredentialsMessage is the client-facing text for ErrMissingCredentials.
const MissingCredentialsMessage = "Missing required Twilio credentials in request body"

var (
	ErrMissingCredentials = errors.New("token: missing required credentials")
	ErrSigningFailed      = errors.New("token: signing failed")
)

// Grant is what the token endpoint hands back to the client.
type Grant struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// Verifier confirms that a credential set is accepted by the provider.
type Verifier interface {
	Verify(ctx context.Context, set credentials.Set) error
}

type MinterOptions struct {
	TTL time.Duration

	// Verifier is optional. Without one, only presence is checked and a
	// wrong secret surfaces later as a device registration failure.
	Verifier Verifier

	Logger *slog.Logger
}

// Minter signs outbound-only voice access tokens with the caller's API key.
// It holds no secrets of its own; every request brings its credentials.
type Minter struct {
	ttl      time.Duration
	verifier Verifier
	log      *slog.Logger
}

func NewMinter(opts MinterOptions) *Minter {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Minter{ttl: ttl, verifier: opts.Verifier, log: logger.Component(opts.Logger, "token")}
}

// Mint validates presence of all four fields and returns a signed token.
// The format of each field is not re-validated here.
func (m *Minter) Mint(ctx context.Context, now time.Time, set credentials.Set) (Grant, error) {
	if !set.Complete() {
		return Grant{}, ErrMissingCredentials
	}

	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, set); err != nil {
			m.log.Warn("credential verification failed", "account_id", set.AccountID, "err", err)
			return Grant{}, fmt.Errorf("%w: %w", ErrSigningFailed, err)
		}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", set.APIKeyID, now.Unix()),
			Issuer:    set.APIKeyID,
			Subject:   set.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Grants: Grants{
			Identity: Identity,
			Voice: &VoiceGrant{
				Incoming: IncomingGrant{Allow: false},
				Outgoing: OutgoingGrant{ApplicationSID: set.ApplicationID},
			},
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["cty"] = ContentType

	signed, err := t.SignedString([]byte(set.APIKeySecret))
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	m.log.Debug("token minted", "account_id", set.AccountID, "api_key_id", set.APIKeyID, "expires_at", claims.ExpiresAt.Time)
	return Grant{Token: signed, Identity: Identity}, nil
}

// Parse verifies a token signed with secret and returns its claims.
func Parse(tokenString, secret string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	t, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, err
	}
	if cty, _ := t.Header["cty"].(string); cty != ContentType {
		return Claims{}, errors.New("token: unexpected content type")
	}
	if claims.Grants.Identity == "" {
		return Claims{}, errors.New("token: identity missing")
	}
	return claims, nil
}

// ParseUnverified reads claims without checking the signature. Clients use it
// to log the expiry of a token they cannot verify.
func ParseUnverified(tokenString string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
