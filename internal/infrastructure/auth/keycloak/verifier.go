// Package keycloak verifies bearer tokens issued by a Keycloak realm and
// maps realm roles to LexNER API permissions.
package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

// Verifier checks a raw bearer token and returns its claims.
type Verifier interface {
	VerifyToken(ctx context.Context, rawToken string) (*TokenClaims, error)
}

// TokenClaims is the subset of a Keycloak access token the API uses.
type TokenClaims struct {
	Subject   string    `json:"sub"`
	Username  string    `json:"preferred_username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	Issuer    string    `json:"iss"`
	ExpiresAt time.Time `json:"exp"`
}

// HasRole reports whether the token carries role.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Config locates the realm and names the client tokens must be issued for.
type Config struct {
	BaseURL  string
	Realm    string
	ClientID string
	// RefreshInterval is how often Run refetches the signing keys.
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
}

func (c Config) issuer() string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(c.BaseURL, "/"), c.Realm)
}

var (
	ErrMissingToken          = errors.New(errors.ErrCodeUnauthorized, "missing bearer token")
	ErrTokenExpired          = errors.New(errors.ErrCodeUnauthorized, "token expired")
	ErrTokenInvalidSignature = errors.New(errors.ErrCodeUnauthorized, "invalid token signature")
	ErrTokenInvalidIssuer    = errors.New(errors.ErrCodeUnauthorized, "invalid token issuer")
	ErrTokenInvalidAudience  = errors.New(errors.ErrCodeUnauthorized, "invalid token audience")
	ErrTokenMalformed        = errors.New(errors.ErrCodeUnauthorized, "malformed token")
	ErrKeycloakUnavailable   = errors.New(errors.ErrCodeServiceUnavailable, "keycloak unavailable")
)

// JWKSVerifier validates RS256 tokens against the realm's published keys.
type JWKSVerifier struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// Option configures a JWKSVerifier.
type Option func(*JWKSVerifier)

// WithHTTPClient sets the client used to fetch keys.
func WithHTTPClient(c *http.Client) Option {
	return func(v *JWKSVerifier) { v.httpClient = c }
}

// NewVerifier fetches the realm's keys once and returns a verifier. Call Run
// to keep the keys fresh.
func NewVerifier(ctx context.Context, cfg Config, logger logging.Logger, opts ...Option) (*JWKSVerifier, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" || cfg.ClientID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "keycloak base_url, realm and client_id are required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	v := &JWKSVerifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
		keys:       map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.refresh(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to fetch realm keys")
	}
	return v, nil
}

// Run refreshes the keys every RefreshInterval until ctx is cancelled.
func (v *JWKSVerifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := v.refresh(ctx); err != nil {
				v.logger.Warn("failed to refresh realm keys", logging.Err(err))
			}
		}
	}
}

// Health checks that the realm's discovery document is reachable.
func (v *JWKSVerifier) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.issuer()+"/.well-known/openid-configuration", nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ErrKeycloakUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrKeycloakUnavailable.WithDetail(resp.Status)
	}
	return nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *JWKSVerifier) refresh(ctx context.Context) error {
	url := v.cfg.issuer() + "/protocol/openid-connect/certs"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			v.logger.Warn("skipping unusable realm key", logging.String("kid", k.Kid), logging.Err(err))
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("no RSA signing keys in %s", url)
	}

	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
	v.logger.Debug("realm keys refreshed", logging.Int("count", len(keys)))
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := 0
	for _, b := range e {
		exp = exp<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}

func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	v.mu.RUnlock()
	if ok {
		return key, nil
	}
	// Unknown kid: the realm may have rotated keys since the last refresh.
	if err := v.refresh(ctx); err != nil {
		return nil, ErrKeycloakUnavailable.WithCause(err)
	}
	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrTokenInvalidSignature
	}
	return key, nil
}

type accessClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty   string `json:"azp"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// VerifyToken checks signature, expiry, issuer and audience. The token must
// name the configured client in aud or azp. Roles are the realm roles plus
// the roles granted on the configured client.
func (v *JWKSVerifier) VerifyToken(ctx context.Context, rawToken string) (*TokenClaims, error) {
	if rawToken == "" {
		return nil, ErrMissingToken
	}
	var claims accessClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrTokenMalformed
		}
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.cfg.issuer()),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}

	if !containsString(claims.Audience, v.cfg.ClientID) && claims.AuthorizedParty != v.cfg.ClientID {
		return nil, ErrTokenInvalidAudience
	}

	out := &TokenClaims{
		Subject:  claims.Subject,
		Username: claims.PreferredUsername,
		Email:    claims.Email,
		Issuer:   claims.Issuer,
		Roles:    append([]string{}, claims.RealmAccess.Roles...),
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if client, ok := claims.ResourceAccess[v.cfg.ClientID]; ok {
		out.Roles = append(out.Roles, client.Roles...)
	}
	return out, nil
}

func classify(err error) error {
	var appErr *errors.AppError
	switch {
	case stdliberrors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case stdliberrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenInvalidIssuer
	case stdliberrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenInvalidSignature
	case stdliberrors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.As(err, &appErr):
		return appErr
	default:
		return errors.Wrap(err, errors.ErrCodeUnauthorized, "token verification failed")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
