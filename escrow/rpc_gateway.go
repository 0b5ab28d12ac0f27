package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// JSON-RPC error codes emitted by the ledger adapter.
const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeInternal         = -32603
	codeNodeBehind       = -32004
	codeRateLimited      = -32005
	codeInvalidState     = -32010
	codeSignerMismatch   = -32011
	codeAccountNotFound  = -32012
	codeInsufficientFund = -32013
)

// RPCConfig configures the JSON-RPC ledger adapter client.
type RPCConfig struct {
	Endpoint  string
	AuthToken string
	Timeout   time.Duration
	// ReadRetryElapsed bounds the backoff window for FetchState. Zero disables retries.
	ReadRetryElapsed time.Duration
}

// RPCGateway talks JSON-RPC 2.0 to the ledger adapter fronting the escrow program.
type RPCGateway struct {
	endpoint         string
	client           *resty.Client
	readRetryElapsed time.Duration
	nextID           atomic.Int64
}

func NewRPCGateway(cfg RPCConfig) (*RPCGateway, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("escrow: rpc endpoint required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		client.SetAuthToken(token)
	}
	return &RPCGateway{
		endpoint:         endpoint,
		client:           client,
		readRetryElapsed: cfg.ReadRetryElapsed,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type createResult struct {
	Account   string `json:"account"`
	Signature string `json:"signature"`
}

type stateResult struct {
	Account  string `json:"account"`
	State    string `json:"state"`
	Lamports uint64 `json:"lamports"`
	Slot     uint64 `json:"slot"`
}

func (g *RPCGateway) CreateAndFund(ctx context.Context, req FundingRequest) (AccountRef, error) {
	const op = "createAndFund"
	if req.Lamports == 0 {
		return "", fatal(op, ErrInvalidAmount)
	}
	params := map[string]any{
		"jobId":    req.JobID,
		"payer":    req.Payer,
		"payee":    req.Payee,
		"lamports": req.Lamports,
	}
	var out createResult
	if err := g.call(ctx, op, "escrow_createAndFund", params, &out); err != nil {
		return "", err
	}
	ref := AccountRef(strings.TrimSpace(out.Account))
	if err := ref.Validate(); err != nil {
		return "", fatal(op, err)
	}
	return ref, nil
}

func (g *RPCGateway) FetchState(ctx context.Context, ref AccountRef) (OnChainState, error) {
	if err := ref.Validate(); err != nil {
		return OnChainState{}, fatal("fetchState", err)
	}
	if g.readRetryElapsed <= 0 {
		return g.fetchOnce(ctx, ref)
	}

	var state OnChainState
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = g.readRetryElapsed
	err := backoff.Retry(func() error {
		st, err := g.fetchOnce(ctx, ref)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		state = st
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		var gwErr *Error
		if !errors.As(err, &gwErr) {
			return OnChainState{}, transient("fetchState", err)
		}
		return OnChainState{}, err
	}
	return state, nil
}

func (g *RPCGateway) fetchOnce(ctx context.Context, ref AccountRef) (OnChainState, error) {
	const op = "fetchState"
	var out stateResult
	err := g.call(ctx, op, "escrow_getState", map[string]string{"account": ref.String()}, &out)
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeAccountNotFound {
			return OnChainState{Account: ref, State: StateUnknown}, nil
		}
		return OnChainState{}, err
	}
	return OnChainState{
		Account:  ref,
		State:    parseState(out.State),
		Lamports: out.Lamports,
		Slot:     out.Slot,
	}, nil
}

func (g *RPCGateway) Release(ctx context.Context, ref AccountRef) error {
	if err := ref.Validate(); err != nil {
		return fatal("release", err)
	}
	return g.call(ctx, "release", "escrow_release", map[string]string{"account": ref.String()}, nil)
}

func (g *RPCGateway) Refund(ctx context.Context, ref AccountRef) error {
	if err := ref.Validate(); err != nil {
		return fatal("refund", err)
	}
	return g.call(ctx, "refund", "escrow_refund", map[string]string{"account": ref.String()}, nil)
}

func (g *RPCGateway) call(ctx context.Context, op, method string, params any, out any) error {
	body := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []any{params},
		ID:      g.nextID.Add(1),
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(g.endpoint)
	if err != nil {
		return transient(op, err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return transient(op, fmt.Errorf("status=%d body=%s", status, strings.TrimSpace(resp.String())))
	case status != http.StatusOK:
		return fatal(op, fmt.Errorf("status=%d body=%s", status, strings.TrimSpace(resp.String())))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return transient(op, fmt.Errorf("decode response: %w", err))
	}
	if decoded.Error != nil {
		return classifyRPCError(op, decoded.Error)
	}
	if out == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return transient(op, errors.New("empty result"))
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fatal(op, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

func classifyRPCError(op string, e *rpcError) error {
	switch e.Code {
	case codeInternal, codeNodeBehind, codeRateLimited:
		return transient(op, e)
	case codeParseError, codeInvalidRequest, codeMethodNotFound, codeInvalidParams,
		codeInvalidState, codeSignerMismatch, codeAccountNotFound, codeInsufficientFund:
		return fatal(op, e)
	default:
		return fatal(op, e)
	}
}

func parseState(raw string) State {
	switch State(strings.ToLower(strings.TrimSpace(raw))) {
	case StateInitialized:
		return StateInitialized
	case StateReleased, "accepted":
		// the escrow program names the released state "accepted"
		return StateReleased
	case StateRefunded:
		return StateRefunded
	case StateDisputed:
		return StateDisputed
	default:
		return StateUnknown
	}
}
