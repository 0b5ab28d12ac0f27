package job

import (
	"context"

	"gigflow/escrow"
)

// EscrowPresence constrains the escrow reference in a Condition.
type EscrowPresence int

const (
	EscrowAny EscrowPresence = iota
	EscrowAbsent
	EscrowPresent
)

// Condition is the precondition a ConditionalUpdate is applied under.
type Condition struct {
	Status Status
	Escrow EscrowPresence
}

// Holds reports whether j currently satisfies c.
func (c Condition) Holds(j Job) bool {
	if j.Status != c.Status {
		return false
	}
	switch c.Escrow {
	case EscrowAbsent:
		return !j.Funded()
	case EscrowPresent:
		return j.Funded()
	}
	return true
}

// Patch lists the fields a ConditionalUpdate writes. Zero fields are left unchanged.
// EscrowAccount is only written when the stored reference is still empty.
type Patch struct {
	Status        Status
	EscrowAccount escrow.AccountRef
	Dispute       *Dispute
	Actor         string
}

// Store is the keyed job ledger. Only the Coordinator mutates it.
type Store interface {
	Get(ctx context.Context, id string) (Job, error)
	Insert(ctx context.Context, j Job) error
	// ConditionalUpdate applies patch if the stored job satisfies cond and returns
	// the updated job. It returns ErrConflict when cond fails and ErrNotFound for unknown ids.
	ConditionalUpdate(ctx context.Context, id string, cond Condition, patch Patch) (Job, error)
	List(ctx context.Context, filter Filter) ([]Job, int, error)
	Events(ctx context.Context, id string) ([]Event, error)
}
