package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

var (
	// ErrTransient marks a gateway failure that may succeed when retried (network, timeout, overload).
	ErrTransient = errors.New("escrow: transient gateway failure")
	// ErrFatal marks a rejection by the ledger program itself (signer mismatch, invalid state).
	ErrFatal = errors.New("escrow: ledger rejected call")
	// ErrInvalidAccountRef is returned for account references that are not 32-byte base58 keys.
	ErrInvalidAccountRef = errors.New("escrow: invalid account reference")
)

// AccountRef identifies an on-chain escrow account (base58 public key).
type AccountRef string

func (r AccountRef) String() string { return string(r) }

// Validate checks that the reference decodes to a 32-byte key.
func (r AccountRef) Validate() error {
	s := strings.TrimSpace(string(r))
	if s == "" {
		return ErrInvalidAccountRef
	}
	if raw := base58.Decode(s); len(raw) != 32 {
		return fmt.Errorf("%w: %q", ErrInvalidAccountRef, s)
	}
	return nil
}

type jobIDKey struct{}

// WithJobID tags ctx with the job a gateway call is made for, so decorators can
// attribute calls that only carry an account reference.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFrom returns the job tagged by WithJobID, or "".
func JobIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// State is the custody state reported by the ledger program.
type State string

const (
	StateUnknown     State = "unknown"
	StateInitialized State = "initialized"
	StateReleased    State = "released"
	StateRefunded    State = "refunded"
	StateDisputed    State = "disputed"
)

// OnChainState is the snapshot returned by FetchState.
type OnChainState struct {
	Account  AccountRef
	State    State
	Lamports uint64
	Slot     uint64
}

// FundingRequest describes the escrow to create. JobID doubles as the
// idempotency key so a resubmitted funding resolves to the same account.
type FundingRequest struct {
	JobID    string
	Payer    string
	Payee    string
	Lamports uint64
}

// Gateway is the adapter boundary to the external escrow program.
type Gateway interface {
	CreateAndFund(ctx context.Context, req FundingRequest) (AccountRef, error)
	FetchState(ctx context.Context, ref AccountRef) (OnChainState, error)
	Release(ctx context.Context, ref AccountRef) error
	Refund(ctx context.Context, ref AccountRef) error
}

// Error carries the failing operation and its classification.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transient(op string, err error) error {
	return &Error{Op: op, Kind: ErrTransient, Err: err}
}

func fatal(op string, err error) error {
	return &Error{Op: op, Kind: ErrFatal, Err: err}
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsFatal reports whether err is a ledger rejection.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
