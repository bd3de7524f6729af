package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// ChangeKind describes what happened to an identity.
type ChangeKind string

const (
	ChangeRoleUpdated = ChangeKind("role_updated")
	ChangeDeleted     = ChangeKind("deleted")
)

// IdentityChange is delivered to registered listeners on every identity
// mutation so authorization gates re-evaluate live instead of caching.
type IdentityChange struct {
	Kind       ChangeKind
	IdentityID string
	Role       types.Role
}

// Service is the identity/credential collaborator: sign-in, token
// verification, and admin-driven identity provisioning. Secrets are stored
// as bcrypt hashes; sessions are stateless HMAC-signed JWTs. Tokens carry
// only the identity ID — the role is re-read from the store on every
// verification so a role change takes effect on the next decision.
type Service struct {
	identities interfaces.IdentityStore
	jwtSecret  []byte
	tokenTTL   time.Duration

	mu        sync.RWMutex
	listeners []func(IdentityChange)
}

// NewService creates the auth service.
func NewService(identities interfaces.IdentityStore, jwtSecret []byte, tokenTTL time.Duration) *Service {
	return &Service{
		identities: identities,
		jwtSecret:  jwtSecret,
		tokenTTL:   tokenTTL,
	}
}

// OnIdentityChange registers a listener fired on role mutation and deletion.
func (s *Service) OnIdentityChange(listener func(IdentityChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *Service) notify(change IdentityChange) {
	s.mu.RLock()
	listeners := make([]func(IdentityChange), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(change)
	}
}

// SignIn verifies credentials and issues a token. A missing identity and a
// wrong secret are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, loginName, secret string) (*types.Identity, string, error) {
	identity, hash, err := s.identities.GetIdentityByLogin(ctx, loginName)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	claims := jwt.RegisteredClaims{
		Subject:   identity.ID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign token: %w", err)
	}

	log.Printf("Signed in: identity=%s role=%s", identity.ID, identity.Role)
	return identity, token, nil
}

// Authenticate resolves a token to its identity. The identity record is
// read fresh from the store, never from the token, so role changes and
// deletions apply immediately to new decisions.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*types.Identity, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	identity, err := s.identities.GetIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return identity, nil
}

// CreateIdentity provisions a new identity with a bcrypt-hashed secret.
// Admin-only; the API layer enforces the gate.
func (s *Service) CreateIdentity(ctx context.Context, loginName, displayName, secret string, role types.Role) (*types.Identity, error) {
	if len(secret) < 6 {
		return nil, ErrSecretTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	identity := &types.Identity{
		ID:          uuid.New().String(),
		LoginName:   loginName,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.identities.CreateIdentity(ctx, identity, hash); err != nil {
		return nil, err
	}

	log.Printf("Identity created: id=%s login=%s role=%s", identity.ID, identity.LoginName, identity.Role)
	return identity, nil
}

// UpdateRole mutates an identity's role and notifies listeners.
func (s *Service) UpdateRole(ctx context.Context, id string, role types.Role) error {
	if err := s.identities.UpdateRole(ctx, id, role); err != nil {
		return err
	}
	s.notify(IdentityChange{Kind: ChangeRoleUpdated, IdentityID: id, Role: role})
	log.Printf("Role updated: identity=%s role=%s", id, role)
	return nil
}

// DeleteIdentity removes an identity. The store deletes the credential in
// the same transaction, so deletion also revokes sign-in.
func (s *Service) DeleteIdentity(ctx context.Context, id string) error {
	if err := s.identities.DeleteIdentity(ctx, id); err != nil {
		return err
	}
	s.notify(IdentityChange{Kind: ChangeDeleted, IdentityID: id})
	log.Printf("Identity deleted: identity=%s", id)
	return nil
}

// ListIdentities returns all identities for the admin dashboard.
func (s *Service) ListIdentities(ctx context.Context) ([]*types.Identity, error) {
	return s.identities.ListIdentities(ctx)
}
