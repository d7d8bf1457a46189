// Package auth holds the registered users, their credentials and their
// collateral limits. The matching engine consumes only ResolveToken and
// CollateralLimit from it; everything else is user surface.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ksred/galactic-exchange/internal/types"
)

// Claims is the JWT claims structure carried by bearer tokens. The
// generation ties a token to the password it was issued under.
type Claims struct {
	jwt.RegisteredClaims
	Username   string `json:"username"`
	Generation int64  `json:"generation"`
}

type user struct {
	name            string
	passwordHash    []byte
	tokenGeneration int64
	collateral      int64
	unlimited       bool
}

// UserState is the persistence form of one user record.
type UserState struct {
	Username        string
	PasswordHash    []byte
	TokenGeneration int64
	Collateral      int64
	Unlimited       bool
}

// Service handles registration, login, password changes and collateral
// administration.
type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    zerolog.Logger

	mu    sync.RWMutex
	users map[string]*user
}

// NewService creates an identity service signing tokens with the given
// secret.
func NewService(jwtSecret string, logger zerolog.Logger) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
		logger:    logger.With().Str("component", "auth").Logger(),
		users:     make(map[string]*user),
	}
}

// Register creates a new user with a bcrypt-hashed password.
func (s *Service) Register(username, password string) error {
	if username == "" || password == "" {
		return types.E(types.KindInvalidInput, "username and password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return types.E(types.KindConflict, "username already taken")
	}
	s.users[username] = &user{
		name:         username,
		passwordHash: hash,
		unlimited:    true,
	}
	s.logger.Info().Str("username", username).Msg("User registered")
	return nil
}

// Login verifies the credentials and issues a bearer token bound to the
// user's current token generation.
func (s *Service) Login(username, password string) (string, error) {
	s.mu.RLock()
	u, exists := s.users[username]
	s.mu.RUnlock()

	if !exists || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return "", types.E(types.KindUnauthorized, "invalid username or password")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Username:   username,
		Generation: u.tokenGeneration,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ChangePassword replaces the user's password and bumps the token
// generation so every previously issued token stops resolving.
func (s *Service) ChangePassword(username, oldPassword, newPassword string) error {
	if username == "" || oldPassword == "" || newPassword == "" {
		return types.E(types.KindInvalidInput, "username and passwords must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[username]
	if !exists || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(oldPassword)) != nil {
		return types.E(types.KindUnauthorized, "invalid username or password")
	}
	u.passwordHash = hash
	u.tokenGeneration++
	s.logger.Info().Str("username", username).Msg("Password changed, tokens invalidated")
	return nil
}

// ResolveToken maps a bearer token to a username. An unknown, expired,
// tampered or generation-stale token is simply absence.
func (s *Service) ResolveToken(tokenString string) (string, bool) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[claims.Username]
	if !exists || u.tokenGeneration != claims.Generation {
		return "", false
	}
	return claims.Username, true
}

// Exists reports whether the username is registered.
func (s *Service) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.users[username]
	return exists
}

// CollateralLimit returns the user's collateral limit. Unknown users
// get the unlimited default.
func (s *Service) CollateralLimit(username string) (limit int64, unlimited bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[username]
	if !exists || u.unlimited {
		return 0, true
	}
	return u.collateral, false
}

// SetCollateral sets the user's collateral limit. Negative limits clamp
// to zero. The update affects subsequent admissions only.
func (s *Service) SetCollateral(username string, limit int64) error {
	if limit < 0 {
		limit = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[username]
	if !exists {
		return types.E(types.KindNotFound, "unknown user")
	}
	u.collateral = limit
	u.unlimited = false
	s.logger.Info().Str("username", username).Int64("collateral", limit).Msg("Collateral updated")
	return nil
}

// Snapshot returns a copy of every user record for persistence.
func (s *Service) Snapshot() []UserState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]UserState, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, UserState{
			Username:        u.name,
			PasswordHash:    append([]byte(nil), u.passwordHash...),
			TokenGeneration: u.tokenGeneration,
			Collateral:      u.collateral,
			Unlimited:       u.unlimited,
		})
	}
	return out
}

// Restore replaces the user set from a persisted snapshot.
func (s *Service) Restore(states []UserState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*user, len(states))
	for _, st := range states {
		s.users[st.Username] = &user{
			name:            st.Username,
			passwordHash:    append([]byte(nil), st.PasswordHash...),
			tokenGeneration: st.TokenGeneration,
			collateral:      st.Collateral,
			unlimited:       st.Unlimited,
		}
	}
}
