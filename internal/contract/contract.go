package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"swaprelay/internal/callabi"
)

// Store persists the contract singleton and the deposit ledger.
type Store interface {
	// LoadState returns ErrStateNotFound before instantiation.
	LoadState(ctx context.Context) (*State, error)
	// Stamps returns the last processing time of every known key among keys.
	Stamps(ctx context.Context, keys []DepositKey) (map[DepositKey]time.Time, error)
	// Commit applies m atomically.
	Commit(ctx context.Context, m Mutation) error
}

// Locker is implemented by stores shared between processes. The lock is held across
// the read-modify-write of one call; unlock must be safe to call once.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// Contract executes relay messages against a Store. Calls are serialized in-process,
// and across processes when the store is a Locker.
type Contract struct {
	mu      sync.Mutex
	store   Store
	encoder *callabi.Encoder
	now     func() time.Time
	log     logrus.FieldLogger
}

type Option func(*Contract)

// WithClock overrides the time source used as the call timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Contract) { c.log = log }
}

func New(store Store, opts ...Option) (*Contract, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	enc, err := callabi.Compass()
	if err != nil {
		return nil, err
	}
	c := &Contract{
		store:   store,
		encoder: enc,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "contract")
	return c, nil
}

// Instantiate creates the singleton state with sender as owner. It succeeds once.
func (c *Contract) Instantiate(ctx context.Context, sender string, msg InstantiateMsg) (*Response, error) {
	if sender == "" {
		return nil, invalid("sender", errors.New("owner is required"))
	}
	if msg.JobID == "" {
		return nil, invalid("job_id", errors.New("must not be empty"))
	}
	if msg.RetryDelay > maxRetryDelay {
		return nil, invalid("retry_delay", fmt.Errorf("%d exceeds %d seconds", msg.RetryDelay, maxRetryDelay))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	unlock, err := c.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, err = c.store.LoadState(ctx)
	switch {
	case err == nil:
		return nil, ErrAlreadyInstantiated
	case !errors.Is(err, ErrStateNotFound):
		return nil, &StorageError{Op: "load state", Err: err}
	}

	state := State{
		Owner:      sender,
		JobID:      msg.JobID,
		RetryDelay: msg.RetryDelay,
		Metadata:   Metadata{Creator: msg.Creator, Signers: msg.Signers}.clone(),
	}
	if err := c.commit(ctx, Mutation{State: &state}); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{"owner": sender, "job_id": msg.JobID, "retry_delay": msg.RetryDelay}).Info("contract instantiated")
	return NewResponse().
		AddAttribute("method", "instantiate").
		AddAttribute("owner", sender).
		AddAttribute("job_id", msg.JobID), nil
}

// Execute runs one message on behalf of sender.
func (c *Contract) Execute(ctx context.Context, sender string, msg ExecuteMsg) (*Response, error) {
	op, err := msg.Operation()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	unlock, err := c.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := c.loadState(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now()

	var resp *Response
	switch {
	case msg.PutSwap != nil:
		resp, err = c.putSwap(ctx, state, now, msg.PutSwap.Deposits)
	case msg.SetPaloma != nil:
		resp, err = c.setPaloma(state, sender)
	case msg.UpdateCompass != nil:
		resp, err = c.updateAddress(state, sender, callabi.MethodUpdateCompass, "new_compass", msg.UpdateCompass.NewCompass)
	case msg.UpdateRefundWallet != nil:
		resp, err = c.updateAddress(state, sender, callabi.MethodUpdateRefundWallet, "new_refund_wallet", msg.UpdateRefundWallet.NewRefundWallet)
	case msg.UpdateFee != nil:
		resp, err = c.updateFee(state, sender, msg.UpdateFee.Fee)
	case msg.UpdateJobID != nil:
		resp, err = c.updateJobID(ctx, state, sender, msg.UpdateJobID.NewJobID)
	}
	if err != nil {
		c.log.WithFields(logrus.Fields{"operation": op, "sender": sender, "kind": Kind(err)}).WithError(err).Warn("execute failed")
		return nil, err
	}
	return resp, nil
}

// Query answers read-only messages with a JSON document.
func (c *Contract) Query(ctx context.Context, msg QueryMsg) ([]byte, error) {
	if msg.GetJobID == nil {
		return nil, invalid("query", errVariant)
	}
	jobID, err := c.JobID(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(GetJobIDResponse{JobID: jobID})
}

// JobID returns the currently configured scheduled job.
func (c *Contract) JobID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.loadState(ctx)
	if err != nil {
		return "", err
	}
	return state.JobID, nil
}

func (c *Contract) putSwap(ctx context.Context, state *State, now time.Time, deposits []Deposit) (*Response, error) {
	stamps, err := c.store.Stamps(ctx, Keys(deposits))
	if err != nil {
		return nil, &StorageError{Op: "load stamps", Err: err}
	}

	selected, writes := Gate(deposits, stamps, now, state.RetryWindow())
	log := c.log.WithFields(logrus.Fields{
		"received": len(deposits),
		"selected": len(selected),
		"now":      now.Unix(),
	})

	if len(selected) == 0 {
		// Stamps are still refreshed for an all-pending batch.
		if err := c.commit(ctx, Mutation{Stamps: writes}); err != nil {
			return nil, err
		}
		log.Info("no deposit eligible for retry")
		return nil, ErrAllPending
	}

	ids := make([]*big.Int, len(selected))
	counts := make([]*big.Int, len(selected))
	mins := make([]*uint256.Int, len(selected))
	for i, d := range selected {
		ids[i] = callabi.Uint256FromUint32(d.DepositID)
		counts[i] = callabi.Uint256FromUint32(d.RemainingCount)
		mins[i] = d.AmountOutMin.Int()
	}
	payload, err := c.encoder.Encode(callabi.MethodMultipleSwap, ids, counts, callabi.Uint256Array(mins))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", callabi.MethodMultipleSwap, err)
	}

	if err := c.commit(ctx, Mutation{Stamps: writes}); err != nil {
		return nil, err
	}
	log.Info("swap batch dispatched")
	return NewResponse().
		AddMessage(envelope(state, payload)).
		AddAttribute("action", callabi.MethodMultipleSwap).
		AddAttribute("deposits", strconv.Itoa(len(selected))), nil
}

func (c *Contract) setPaloma(state *State, sender string) (*Response, error) {
	if err := authorize(state, sender); err != nil {
		return nil, err
	}
	return c.remoteCall(state, callabi.MethodSetPaloma)
}

func (c *Contract) updateAddress(state *State, sender, method, field, value string) (*Response, error) {
	if err := authorize(state, sender); err != nil {
		return nil, err
	}
	addr, err := callabi.ParseAddress(value)
	if err != nil {
		return nil, invalid(field, err)
	}
	return c.remoteCall(state, method, addr)
}

func (c *Contract) updateFee(state *State, sender string, fee Uint256) (*Response, error) {
	if err := authorize(state, sender); err != nil {
		return nil, err
	}
	return c.remoteCall(state, callabi.MethodUpdateFee, fee.Big())
}

func (c *Contract) updateJobID(ctx context.Context, state *State, sender, jobID string) (*Response, error) {
	if err := authorize(state, sender); err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, invalid("new_job_id", errors.New("must not be empty"))
	}
	next := state.Clone()
	next.JobID = jobID
	if err := c.commit(ctx, Mutation{State: &next}); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"old": state.JobID, "new": jobID}).Info("job id updated")
	return NewResponse(), nil
}

// remoteCall encodes a single admin call and wraps it as the response's only message.
func (c *Contract) remoteCall(state *State, method string, args ...interface{}) (*Response, error) {
	payload, err := c.encoder.Encode(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return NewResponse().
		AddMessage(envelope(state, payload)).
		AddAttribute("action", method), nil
}

func authorize(state *State, sender string) error {
	if sender == "" || sender != state.Owner {
		return ErrUnauthorized
	}
	return nil
}

func envelope(state *State, payload []byte) Envelope {
	return Envelope{
		JobID:    state.JobID,
		Payload:  payload,
		Metadata: state.Metadata.clone(),
	}
}

func (c *Contract) lock(ctx context.Context) (func(), error) {
	l, ok := c.store.(Locker)
	if !ok {
		return func() {}, nil
	}
	unlock, err := l.Lock(ctx)
	if err != nil {
		return nil, &StorageError{Op: "lock", Err: err}
	}
	return unlock, nil
}

func (c *Contract) loadState(ctx context.Context) (*State, error) {
	state, err := c.store.LoadState(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load state", Err: err}
	}
	return state, nil
}

func (c *Contract) commit(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}
	if err := c.store.Commit(ctx, m); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	return nil
}
