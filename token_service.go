package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// SessionTokens issues, renews, lists and revokes session tokens. Refresh
// tokens are tracked per owner and client in the session token store; access
// tokens are stateless and live only as long as their expiry.
type SessionTokens interface {
	// Login issues a refresh token for the identity, bound to the client.
	Login(ctx context.Context, identity Identity, client ClientContext) (string, error)
	// Renew validates a refresh token and mints a fresh access token.
	Renew(ctx context.Context, refreshToken string, client ClientContext) (string, error)
	// ListTokens lists the owner's outstanding refresh tokens.
	ListTokens(ctx context.Context, username string) ([]*SessionToken, error)
	// Revoke deletes one of the owner's refresh tokens by id.
	Revoke(ctx context.Context, username string, id uuid.UUID) error
}

// SessionTokenService is the JWT backed SessionTokens implementation.
type SessionTokenService struct {
	cfg      Config
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

var _ SessionTokens = (*SessionTokenService)(nil)

// NewSessionTokenService creates the service over the shared repositories.
func NewSessionTokenService(cfg Config, repo RepositoryManager) *SessionTokenService {
	return &SessionTokenService{
		cfg:      cfg,
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (s *SessionTokenService) WithActivitySink(sink ActivitySink) *SessionTokenService {
	s.activity = normalizeActivitySink(sink)
	return s
}

func (s *SessionTokenService) WithLogger(l Logger) *SessionTokenService {
	if l != nil {
		s.logger = l
	}
	return s
}

// Login issues a refresh token for the identity and records it so the owner
// can list and revoke it per client. The account's credential nonce rides in
// the claims: rotating the nonce invalidates every outstanding token without
// touching the store.
func (s *SessionTokenService) Login(ctx context.Context, identity Identity, client ClientContext) (string, error) {
	now := time.Now()
	ttl := hoursOrDefault(s.cfg.GetRefreshExpiration(), 30*24*time.Hour)
	jti := uuid.New()

	claims := s.newClaims(identity.Username(), identity.ID(), identity.Roles(), TokenCategoryRefresh, now, ttl)
	claims.RegisteredClaims.ID = jti.String()
	if aware, ok := identity.(nonceAwareIdentity); ok {
		claims.CredentialNonce = aware.Nonce()
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", err
	}

	record := &SessionToken{
		ID:        jti,
		Username:  identity.Username(),
		UserAgent: client.UserAgent,
		Category:  TokenCategoryRefresh,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.SessionTokens().Save(ctx, record); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to record session token")
	}

	return signed, nil
}

// Renew validates the refresh token and mints an access token. The token must
// still exist in the store for its owner, be unexpired, match the client it
// was issued to, and carry the account's current credential nonce.
func (s *SessionTokenService) Renew(ctx context.Context, refreshToken string, client ClientContext) (string, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return "", err
	}

	if !claims.IsRefresh() {
		return "", ErrTokenMalformed
	}

	jti, err := uuid.Parse(claims.RegisteredClaims.ID)
	if err != nil {
		return "", ErrTokenMalformed
	}

	record, err := s.repo.SessionTokens().GetByID(ctx, claims.Username(), jti)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return "", ErrSessionNotFound
		}
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to load session token")
	}

	now := time.Now()
	if record.Expired(now) {
		return "", ErrTokenExpired
	}

	if record.UserAgent != client.UserAgent {
		s.logger.Warn("refresh token presented by a different client than it was issued to: %s", claims.Username())
		return "", ErrSessionNotFound
	}

	account, err := s.repo.Accounts().GetByLogin(ctx, claims.Username())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return "", ErrSessionNotFound
		}
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to load session account")
	}

	if account.LoginDisabled {
		return "", ErrLoginDisabled
	}

	// a nonce mismatch means the credential changed after this token was
	// issued, which retires the whole token generation
	if claims.CredentialNonce != account.Nonce {
		return "", ErrTokenExpired
	}

	access := s.newClaims(claims.Username(), account.ID.String(), account.RoleNames(), TokenCategoryAccess, now, hoursOrDefault(s.cfg.GetTokenExpiration(), 24*time.Hour))
	access.CredentialNonce = account.Nonce
	access.RegisteredClaims.ID = uuid.NewString()

	signed, err := s.sign(access)
	if err != nil {
		return "", err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventSessionRenewed,
		Actor:     ActorRef{ID: account.ID.String(), Type: "user"},
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"session_id": jti.String()},
	})

	return signed, nil
}

func (s *SessionTokenService) ListTokens(ctx context.Context, username string) ([]*SessionToken, error) {
	tokens, err := s.repo.SessionTokens().ListByUsername(ctx, username)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list session tokens")
	}
	return tokens, nil
}

func (s *SessionTokenService) Revoke(ctx context.Context, username string, id uuid.UUID) error {
	if err := s.repo.SessionTokens().Delete(ctx, username, id); err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrSessionNotFound
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to revoke session token")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventSessionRevoked,
		Actor:     ActorRef{ID: username, Type: "user"},
		Metadata:  map[string]any{"session_id": id.String()},
	})

	return nil
}

func (s *SessionTokenService) newClaims(subject, uid string, roles []string, category TokenCategory, now time.Time, ttl time.Duration) *JWTClaims {
	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.GetIssuer(),
			Subject:   subject,
			Audience:  jwt.ClaimStrings(s.cfg.GetAudience()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:       uid,
		UserRoles: roles,
		Category:  category,
	}
}

func (s *SessionTokenService) sign(claims *JWTClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(s.cfg.GetSigningKey()))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

func (s *SessionTokenService) parse(tokenString string) (*JWTClaims, error) {
	options := make([]jwt.ParserOption, 0, 2)
	if issuer := s.cfg.GetIssuer(); issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if audience := s.cfg.GetAudience(); len(audience) > 0 {
		options = append(options, jwt.WithAudience(audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			s.logger.Error("unexpected session token signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.GetSigningKey()), nil
	}, options...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
