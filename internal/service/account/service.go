// Package account signs parties up, logs them in and turns session tokens
// back into sessions.
package account

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"golang.org/x/crypto/bcrypt"

	"uk.co.dudmesh.helpline/internal/boot"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/pkg/crypt"
)

const (
	MinPasswordLength = 6
	passwordCost      = 10
)

type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	User(ctx context.Context, userID model.UserID) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	RecordLoginFailure(ctx context.Context, userID model.UserID, maxAttempts int) (int, error)
	RecordLogin(ctx context.Context, userID model.UserID) error
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type claims struct {
	jwt.StandardClaims
	Role model.Role `json:"role"`
}

type service struct {
	store       Store
	signingKey  *ecdsa.PrivateKey
	keyID       string
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// New loads, or creates on first start, the session signing key.
func New(config *boot.Config, store Store) (*service, error) {
	signingKey, keyID, err := crypt.LoadOrCreate(config.SigningKeyPath(), config.Auth.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	return &service{
		store:       store,
		signingKey:  signingKey,
		keyID:       keyID,
		ttl:         config.Auth.SessionTTL,
		maxAttempts: config.Auth.MaxLoginAttempts,
		now:         time.Now,
	}, nil
}

func validateSignup(params *model.SignupParams) error {
	address, err := mail.ParseAddress(params.Email)
	if err != nil || address.Address != strings.TrimSpace(params.Email) {
		return model.ErrorInvalidEmail
	}
	if len(params.Password) < MinPasswordLength {
		return model.ErrorWeakPassword
	}
	if !params.Role.Valid() {
		return model.ErrorInvalidRole
	}
	return nil
}

func (s *service) Signup(ctx context.Context, params *model.SignupParams) (*model.User, error) {
	if err := validateSignup(params); err != nil {
		return nil, err
	}

	passwordBytes, err := bcrypt.GenerateFromPassword([]byte(params.Password), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("generating encoded password: %w", err)
	}

	user := &model.User{
		ID:        model.UserID(model.CreateID()),
		CreatedAt: s.now().UTC(),
		Status:    model.UserStatusActive,
		Email:     strings.ToLower(strings.TrimSpace(params.Email)),
		Name:      strings.TrimSpace(params.Name),
		Role:      params.Role,
		Password:  base64.StdEncoding.EncodeToString(passwordBytes),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, model.ErrorUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	log.Infof("signed up %s as %s", user.ID, user.Role)
	return user, nil
}

// Login checks the password and issues a session token. Repeated failures
// lock the account.
func (s *service) Login(ctx context.Context, params *model.LoginParams) (string, *model.User, error) {
	user, err := s.store.UserByEmail(ctx, params.Email)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return "", nil, model.ErrorInvalidUsernameOrPassword
		}
		return "", nil, fmt.Errorf("fetching user: %w", err)
	}

	if user.Status == model.UserStatusLocked {
		return "", nil, model.ErrorAccountLocked
	}

	passwordBytes, err := base64.StdEncoding.DecodeString(user.Password)
	if err != nil {
		return "", nil, fmt.Errorf("decoding password: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(passwordBytes, []byte(params.Password)); err != nil {
		attempts, err := s.store.RecordLoginFailure(ctx, user.ID, s.maxAttempts)
		if err != nil {
			return "", nil, fmt.Errorf("recording login failure: %w", err)
		}
		if attempts >= s.maxAttempts {
			log.Warnf("locked %s after %d failed logins", user.ID, attempts)
			return "", nil, model.ErrorAccountLocked
		}
		return "", nil, model.ErrorInvalidUsernameOrPassword
	}

	if err := s.store.RecordLogin(ctx, user.ID); err != nil {
		return "", nil, fmt.Errorf("recording login: %w", err)
	}

	token, err := s.issue(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *service) issue(user *model.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, &claims{
		StandardClaims: jwt.StandardClaims{
			Id:        cuid2.Generate(),
			Subject:   string(user.ID),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		Role: user.Role,
	})
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies a session token and rejects revoked ones.
func (s *service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(token, parsed, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != crypt.AlgorithmES256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return &s.signingKey.PublicKey, nil
	})
	if err != nil {
		return nil, model.ErrorInvalidToken
	}
	if parsed.Subject == "" || parsed.Id == "" || !parsed.Role.Valid() {
		return nil, model.ErrorInvalidToken
	}

	revoked, err := s.store.IsRevoked(ctx, parsed.Id)
	if err != nil {
		return nil, fmt.Errorf("checking token: %w", err)
	}
	if revoked {
		return nil, model.ErrorInvalidToken
	}

	return &model.Session{
		UserID:    model.UserID(parsed.Subject),
		Role:      parsed.Role,
		TokenID:   parsed.Id,
		ExpiresAt: time.Unix(parsed.ExpiresAt, 0).UTC(),
	}, nil
}

func (s *service) Logout(ctx context.Context, token string) error {
	session, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, session.TokenID, session.ExpiresAt); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

func (s *service) User(ctx context.Context, userID model.UserID) (*model.User, error) {
	return s.store.User(ctx, userID)
}

// UserInfo is what an operator sees about a reporting party. Unknown or
// unnamed accounts are shown as UnknownUserName.
func (s *service) UserInfo(ctx context.Context, userID model.UserID) (*model.UserInfo, error) {
	user, err := s.store.User(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return &model.UserInfo{Name: model.UnknownUserName}, nil
		}
		return nil, fmt.Errorf("fetching user info: %w", err)
	}

	name := user.Name
	if name == "" {
		name = model.UnknownUserName
	}
	return &model.UserInfo{Name: name, Email: user.Email}, nil
}

type KeySet struct {
	Keys []json.RawMessage `json:"keys"`
}

// JWKS publishes the public half of the session signing key.
func (s *service) JWKS() (*KeySet, error) {
	key, err := crypt.PublicJWK(&s.signingKey.PublicKey, s.keyID)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return &KeySet{Keys: []json.RawMessage{key}}, nil
}
