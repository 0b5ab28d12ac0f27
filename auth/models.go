package auth

import "time"

type Role string

const (
	RoleHirer      Role = "hirer"
	RoleFreelancer Role = "freelancer"
	// RoleAdmin users act as dispute arbiters.
	RoleAdmin Role = "admin"
)

// User is the domain representation of a known identity.
// Identity is the wallet address (or operator handle) jobs refer to.
// PasswordHash is empty for wallet-only users.
type User struct {
	ID           string
	Identity     string
	DisplayName  string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains operator account registration data.
type RegisterRequest struct {
	Identity    string `json:"identity"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// LoginRequest contains password login credentials.
type LoginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}
