package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/envutil"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type AuthConfig struct {
	Secret          string
	Audience        string
	JWKSURL         string
	PrivilegedRoles []string
}

func AuthConfigFromEnv() AuthConfig {
	return AuthConfig{
		Secret:          envutil.String("JWT_SECRET", ""),
		Audience:        envutil.String("JWT_AUDIENCE", "authenticated"),
		JWKSURL:         envutil.String("JWKS_URL", ""),
		PrivilegedRoles: envutil.CSV("PRIVILEGED_ROLES", []string{"service_role", "admin", "superuser"}),
	}
}

// JWTClaims is the token shape issued by the identity provider.
type JWTClaims struct {
	Role        string `json:"role,omitempty"`
	AppMetadata struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
	log        *logger.Logger
	cfg        AuthConfig
	jwks       *JWKSCache
	privileged map[string]bool
}

// NewAuthService accepts HS256 tokens signed with cfg.Secret and, when jwks is
// non-nil, RS256/ES256 tokens signed by a key from the set.
func NewAuthService(baseLog *logger.Logger, cfg AuthConfig, jwks *JWKSCache) (AuthService, error) {
	if strings.TrimSpace(cfg.Secret) == "" && jwks == nil {
		return nil, fmt.Errorf("JWT_SECRET or JWKS_URL is required")
	}
	privileged := make(map[string]bool, len(cfg.PrivilegedRoles))
	for _, r := range cfg.PrivilegedRoles {
		if r = strings.TrimSpace(r); r != "" {
			privileged[r] = true
		}
	}
	return &authService{
		log:        baseLog.With("service", "AuthService"),
		cfg:        cfg,
		jwks:       jwks,
		privileged: privileged,
	}, nil
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if strings.TrimSpace(tokenString) == "" {
		return ctx, ErrNotAuthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(as.methods()),
		jwt.WithExpirationRequired(),
	}
	if as.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(as.cfg.Audience))
	}
	claims := &JWTClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return as.key(ctx, t)
	}, opts...)
	if err != nil {
		return ctx, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if !parsed.Valid {
		return ctx, fmt.Errorf("%w: invalid token", ErrNotAuthenticated)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("%w: invalid user id in token: %w", ErrNotAuthenticated, err)
	}

	roles := rolesOf(claims)
	rd := &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      userID,
		Roles:       roles,
	}
	for _, r := range roles {
		if as.privileged[r] {
			rd.Privileged = true
			break
		}
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}

func (as *authService) methods() []string {
	var out []string
	if as.cfg.Secret != "" {
		out = append(out, "HS256")
	}
	if as.jwks != nil {
		out = append(out, "RS256", "ES256")
	}
	return out
}

func (as *authService) key(ctx context.Context, t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(as.cfg.Secret), nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("missing kid")
		}
		return as.jwks.Key(ctx, kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
}

func rolesOf(c *JWTClaims) []string {
	seen := map[string]bool{}
	var out []string
	add := func(r string) {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r)
	}
	add(c.Role)
	for _, r := range c.AppMetadata.Roles {
		add(r)
	}
	return out
}
