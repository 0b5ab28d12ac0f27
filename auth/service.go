package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"gigflow/escrow"
)

var (
	// ErrInvalidCredentials signals wrong identity or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrRoleNotAllowed is returned when self-registration asks for a privileged role.
	ErrRoleNotAllowed = errors.New("auth: role cannot be self-assigned")
	// ErrInvalidInput signals a missing identity or an unknown role.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrWalletIdentity is returned when a password account asks for a ledger account address.
	// Wallets authenticate with their signature, never with a password.
	ErrWalletIdentity = errors.New("auth: wallet identities cannot register a password")
)

const defaultTokenTTL = 24 * time.Hour

// Service handles authentication business logic and the server-side role directory.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  defaultTokenTTL,
		now:       time.Now,
	}
}

// Register creates a password account for an operator handle. Admin is never
// self-assigned; use GrantRole. Handles that decode as ledger accounts are refused
// so a password can never stand in for a wallet that is party to a job.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	if escrow.AccountRef(identity).Validate() == nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletIdentity, identity)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleHirer
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if role == RoleAdmin {
		return nil, ErrRoleNotAllowed
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = identity
	}
	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Identity:     identity,
		DisplayName:  displayName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a password account and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByIdentity(ctx, strings.TrimSpace(req.Identity))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if user.PasswordHash == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.Identity, user.Role)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// EnsureUser returns the user for identity, creating a hirer on first sight.
func (s *Service) EnsureUser(ctx context.Context, identity string) (User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return User{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	user, err := s.repo.GetUserByIdentity(ctx, identity)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user, err = s.repo.CreateUser(ctx, CreateUserParams{
		Identity:    identity,
		DisplayName: identity,
		Role:        RoleHirer,
	})
	if errors.Is(err, ErrDuplicateIdentity) {
		return s.repo.GetUserByIdentity(ctx, identity)
	}
	return user, err
}

// GrantRole sets identity's stored role. It is an operator action, not an API.
func (s *Service) GrantRole(ctx context.Context, identity string, role Role) (User, error) {
	if !isValidRole(role) {
		return User{}, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if _, err := s.EnsureUser(ctx, identity); err != nil {
		return User{}, err
	}
	return s.repo.SetRole(ctx, strings.TrimSpace(identity), role)
}

// IsArbiter reports whether identity holds the admin role in the users table.
// Token claims are never consulted.
func (s *Service) IsArbiter(ctx context.Context, identity string) (bool, error) {
	user, err := s.repo.GetUserByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("auth: role lookup: %w", err)
	}
	return user.Role == RoleAdmin, nil
}

// VerifyToken validates a JWT token and returns its subject identity and role claim.
// The role claim is informational only.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	identity, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(identity) == "" {
		return "", "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	var role Role
	if raw, ok := claims["role"].(string); ok && isValidRole(Role(raw)) {
		role = Role(raw)
	}
	return identity, role, nil
}

// IssueToken signs a session token for identity.
func (s *Service) IssueToken(identity string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  identity,
		"role": string(role),
		"exp":  now.Add(s.tokenTTL).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	return tokenString, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleHirer, RoleFreelancer, RoleAdmin:
		return true
	default:
		return false
	}
}
