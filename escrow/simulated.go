package escrow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcutil/base58"
)

// Simulated ledger operations, usable with FailNext and DropAck.
const (
	OpCreateAndFund = "createAndFund"
	OpFetchState    = "fetchState"
	OpRelease       = "release"
	OpRefund        = "refund"
)

var (
	// ErrSimulatedTimeout is the cause attached to a dropped acknowledgement.
	ErrSimulatedTimeout = errors.New("escrow: simulated confirmation timeout")
	errAccountNotFound  = errors.New("account not found")
	errProgramState     = errors.New("program rejected instruction in current state")
)

type simAccount struct {
	ref      AccountRef
	jobID    string
	payer    string
	payee    string
	lamports uint64
	state    State
	slot     uint64
}

// SimulatedLedger is an in-process stand-in for the escrow program.
// It is safe for concurrent use.
type SimulatedLedger struct {
	mu       sync.Mutex
	accounts map[AccountRef]*simAccount
	byJob    map[string]AccountRef
	slot     uint64

	failNext map[string][]error
	dropAck  map[string]int
	calls    map[string]int
}

func NewSimulatedLedger() *SimulatedLedger {
	return &SimulatedLedger{
		accounts: make(map[AccountRef]*simAccount),
		byJob:    make(map[string]AccountRef),
		failNext: make(map[string][]error),
		dropAck:  make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next call of op fail with err without touching ledger state.
func (l *SimulatedLedger) FailNext(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[op] = append(l.failNext[op], err)
}

// DropAck makes the next call of op take effect on the ledger but report a transient timeout.
func (l *SimulatedLedger) DropAck(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropAck[op]++
}

// Calls returns how many times op has been invoked, including failed calls.
func (l *SimulatedLedger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// SetState forces an account into state. Used to simulate out-of-band ledger activity.
func (l *SimulatedLedger) SetState(ref AccountRef, state State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[ref]
	if !ok {
		return fmt.Errorf("escrow: set state: %w", errAccountNotFound)
	}
	l.slot++
	acct.state = state
	acct.slot = l.slot
	return nil
}

// AccountFor returns the escrow account funded for jobID, if any.
func (l *SimulatedLedger) AccountFor(jobID string) (AccountRef, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref, ok := l.byJob[jobID]
	return ref, ok
}

// begin records the call and returns an injected failure, if one is queued.
func (l *SimulatedLedger) begin(ctx context.Context, op string) error {
	l.calls[op]++
	if err := ctx.Err(); err != nil {
		return transient(op, err)
	}
	if queued := l.failNext[op]; len(queued) > 0 {
		err := queued[0]
		l.failNext[op] = queued[1:]
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return err
		}
		return transient(op, err)
	}
	return nil
}

// ack reports whether the caller should see the acknowledgement for op.
func (l *SimulatedLedger) ack(op string) error {
	if l.dropAck[op] > 0 {
		l.dropAck[op]--
		return transient(op, ErrSimulatedTimeout)
	}
	return nil
}

func (l *SimulatedLedger) CreateAndFund(ctx context.Context, req FundingRequest) (AccountRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx, OpCreateAndFund); err != nil {
		return "", err
	}
	if req.Lamports == 0 {
		return "", fatal(OpCreateAndFund, ErrInvalidAmount)
	}
	if ref, ok := l.byJob[req.JobID]; ok {
		return ref, l.ack(OpCreateAndFund)
	}
	ref, err := newAccountRef()
	if err != nil {
		return "", transient(OpCreateAndFund, err)
	}
	l.slot++
	l.accounts[ref] = &simAccount{
		ref:      ref,
		jobID:    req.JobID,
		payer:    req.Payer,
		payee:    req.Payee,
		lamports: req.Lamports,
		state:    StateInitialized,
		slot:     l.slot,
	}
	l.byJob[req.JobID] = ref
	if err := l.ack(OpCreateAndFund); err != nil {
		return "", err
	}
	return ref, nil
}

func (l *SimulatedLedger) FetchState(ctx context.Context, ref AccountRef) (OnChainState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx, OpFetchState); err != nil {
		return OnChainState{}, err
	}
	acct, ok := l.accounts[ref]
	if !ok {
		return OnChainState{Account: ref, State: StateUnknown}, nil
	}
	return OnChainState{
		Account:  ref,
		State:    acct.state,
		Lamports: acct.lamports,
		Slot:     acct.slot,
	}, nil
}

func (l *SimulatedLedger) Release(ctx context.Context, ref AccountRef) error {
	return l.settle(ctx, OpRelease, ref, StateReleased)
}

func (l *SimulatedLedger) Refund(ctx context.Context, ref AccountRef) error {
	return l.settle(ctx, OpRefund, ref, StateRefunded)
}

func (l *SimulatedLedger) settle(ctx context.Context, op string, ref AccountRef, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx, op); err != nil {
		return err
	}
	acct, ok := l.accounts[ref]
	if !ok {
		return fatal(op, errAccountNotFound)
	}
	switch acct.state {
	case StateInitialized, StateDisputed:
	default:
		return fatal(op, fmt.Errorf("%w: %s", errProgramState, acct.state))
	}
	l.slot++
	acct.state = to
	acct.slot = l.slot
	return l.ack(op)
}

func newAccountRef() (AccountRef, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", err
	}
	return AccountRef(base58.Encode(key[:])), nil
}
