package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateIdentity signals that the identity is already registered.
	ErrDuplicateIdentity = errors.New("auth: identity already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByIdentity(ctx context.Context, identity string) (User, error)
	SetRole(ctx context.Context, identity string, role Role) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Identity     string
	DisplayName  string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id::text, identity, display_name, COALESCE(password_hash, ''), role, created_at, updated_at`

// CreateUser inserts a new user.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	insertSQL := `
		INSERT INTO users (identity, display_name, password_hash, role)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL, params.Identity, params.DisplayName, params.PasswordHash, string(params.Role)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateIdentity
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByIdentity retrieves a user by wallet address or operator handle.
func (r *PGRepository) GetUserByIdentity(ctx context.Context, identity string) (User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE identity = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, identity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by identity: %w", err)
	}

	return user, nil
}

// SetRole changes the stored role for identity.
func (r *PGRepository) SetRole(ctx context.Context, identity string, role Role) (User, error) {
	updateSQL := `UPDATE users SET role = $2, updated_at = now() WHERE identity = $1 RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, identity, string(role)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: set role: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user User
		role string
	)
	err := row.Scan(
		&user.ID,
		&user.Identity,
		&user.DisplayName,
		&user.PasswordHash,
		&role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.Role = Role(role)
	return user, nil
}

// MemoryRepository is an in-process Repository for the memory store driver.
type MemoryRepository struct {
	mu         sync.Mutex
	byIdentity map[string]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byIdentity: make(map[string]User)}
}

func (m *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byIdentity[params.Identity]; exists {
		return User{}, ErrDuplicateIdentity
	}
	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Identity:     params.Identity,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byIdentity[user.Identity] = user
	return user, nil
}

func (m *MemoryRepository) GetUserByIdentity(ctx context.Context, identity string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byIdentity[identity]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) SetRole(ctx context.Context, identity string, role Role) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byIdentity[identity]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.Role = role
	user.UpdatedAt = time.Now().UTC()
	m.byIdentity[identity] = user
	return user, nil
}
