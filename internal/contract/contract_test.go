package contract_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swaprelay/internal/callabi"
	"swaprelay/internal/contract"
	"swaprelay/internal/store"
)

const owner = "paloma1owner"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Set(sec int64)  { c.now = time.Unix(sec, 0) }

func setup(t *testing.T, retryDelay uint64) (*contract.Contract, *store.MemoryStore, *clock) {
	t.Helper()
	st := store.NewMemoryStore()
	clk := &clock{now: time.Unix(0, 0)}
	c, err := contract.New(st, contract.WithClock(clk.Now))
	require.NoError(t, err)

	_, err = c.Instantiate(context.Background(), owner, contract.InstantiateMsg{
		RetryDelay: retryDelay,
		JobID:      "multiple-swap-job",
		Creator:    "paloma1creator",
		Signers:    []string{"paloma1signer"},
	})
	require.NoError(t, err)
	return c, st, clk
}

func putSwap(deposits ...contract.Deposit) contract.ExecuteMsg {
	return contract.ExecuteMsg{PutSwap: &contract.PutSwap{Deposits: deposits}}
}

func deposit(id, count uint32, min uint64) contract.Deposit {
	return contract.Deposit{DepositID: id, RemainingCount: count, AmountOutMin: contract.NewUint256(min)}
}

func stampOf(t *testing.T, st *store.MemoryStore, id, count uint32) (int64, bool) {
	t.Helper()
	key := contract.DepositKey{DepositID: id, RemainingCount: count}
	stamps, err := st.Stamps(context.Background(), []contract.DepositKey{key})
	require.NoError(t, err)
	ts, ok := stamps[key]
	return ts.Unix(), ok
}

func swapPayload(t *testing.T, deposits ...contract.Deposit) []byte {
	t.Helper()
	enc, err := callabi.Compass()
	require.NoError(t, err)
	ids := make([]*big.Int, len(deposits))
	counts := make([]*big.Int, len(deposits))
	mins := make([]*big.Int, len(deposits))
	for i, d := range deposits {
		ids[i] = big.NewInt(int64(d.DepositID))
		counts[i] = big.NewInt(int64(d.RemainingCount))
		mins[i] = d.AmountOutMin.Big()
	}
	payload, err := enc.Encode(callabi.MethodMultipleSwap, ids, counts, mins)
	require.NoError(t, err)
	return payload
}

func TestRetryDelayScenario(t *testing.T) {
	c, st, clk := setup(t, 3600)
	ctx := context.Background()
	d := deposit(1, 5, 100)

	clk.Set(0)
	resp, err := c.Execute(ctx, "relayer", putSwap(d))
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, swapPayload(t, d), resp.Messages[0].Payload)
	ts, ok := stampOf(t, st, 1, 5)
	require.True(t, ok)
	assert.Equal(t, int64(0), ts)

	clk.Set(100)
	_, err = c.Execute(ctx, "relayer", putSwap(d))
	assert.ErrorIs(t, err, contract.ErrAllPending)
	ts, _ = stampOf(t, st, 1, 5)
	assert.Equal(t, int64(100), ts)

	clk.Set(3700)
	_, err = c.Execute(ctx, "relayer", putSwap(d))
	assert.ErrorIs(t, err, contract.ErrAllPending, "boundary must not qualify")
	ts, _ = stampOf(t, st, 1, 5)
	assert.Equal(t, int64(3700), ts)

	clk.Set(7301)
	resp, err = c.Execute(ctx, "relayer", putSwap(d))
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	ts, _ = stampOf(t, st, 1, 5)
	assert.Equal(t, int64(7301), ts)
}

func TestPutSwapEnvelope(t *testing.T) {
	c, _, clk := setup(t, 60)
	clk.Set(1_700_000_000)

	deposits := []contract.Deposit{deposit(3, 1, 10), deposit(1, 2, 20), deposit(2, 9, 30)}
	resp, err := c.Execute(context.Background(), "anyone", putSwap(deposits...))
	require.NoError(t, err)

	require.Len(t, resp.Messages, 1)
	env := resp.Messages[0]
	assert.Equal(t, "multiple-swap-job", env.JobID)
	assert.Equal(t, contract.Metadata{Creator: "paloma1creator", Signers: []string{"paloma1signer"}}, env.Metadata)
	assert.Equal(t, swapPayload(t, deposits...), env.Payload)

	action, _ := resp.Attribute("action")
	assert.Equal(t, "multiple_swap", action)
	count, _ := resp.Attribute("deposits")
	assert.Equal(t, "3", count)
}

func TestPutSwapFiltersAndPreservesOrder(t *testing.T) {
	c, st, clk := setup(t, 60)
	ctx := context.Background()

	clk.Set(1000)
	_, err := c.Execute(ctx, "relayer", putSwap(deposit(2, 1, 20), deposit(4, 1, 40)))
	require.NoError(t, err)

	clk.Set(1030)
	batch := []contract.Deposit{deposit(5, 1, 50), deposit(2, 1, 20), deposit(9, 1, 90), deposit(4, 1, 40), deposit(1, 1, 10)}
	resp, err := c.Execute(ctx, "relayer", putSwap(batch...))
	require.NoError(t, err)

	assert.Equal(t, swapPayload(t, deposit(5, 1, 50), deposit(9, 1, 90), deposit(1, 1, 10)), resp.Messages[0].Payload)
	assert.Equal(t, 5, st.Len())
	for _, d := range batch {
		ts, ok := stampOf(t, st, d.DepositID, d.RemainingCount)
		assert.True(t, ok)
		assert.Equal(t, int64(1030), ts)
	}
}

func TestPutSwapDistinguishesRemainingCount(t *testing.T) {
	c, _, clk := setup(t, 3600)
	ctx := context.Background()

	clk.Set(10)
	_, err := c.Execute(ctx, "relayer", putSwap(deposit(1, 5, 100)))
	require.NoError(t, err)

	clk.Set(20)
	resp, err := c.Execute(ctx, "relayer", putSwap(deposit(1, 5, 100), deposit(1, 4, 100)))
	require.NoError(t, err)
	assert.Equal(t, swapPayload(t, deposit(1, 4, 100)), resp.Messages[0].Payload)
}

func TestPutSwapEmptyBatch(t *testing.T) {
	c, st, _ := setup(t, 60)

	_, err := c.Execute(context.Background(), "relayer", putSwap())
	assert.ErrorIs(t, err, contract.ErrAllPending)
	assert.Equal(t, "all_pending", contract.Kind(err))
	assert.Equal(t, 0, st.Len())
}

func TestAdminOperationsEncodeOneCall(t *testing.T) {
	c, _, _ := setup(t, 60)
	ctx := context.Background()
	addr := "0x1111111111111111111111111111111111111111"

	cases := []struct {
		name     string
		msg      contract.ExecuteMsg
		action   string
		selector string
		argWords int
	}{
		{"set_paloma", contract.ExecuteMsg{SetPaloma: &contract.SetPaloma{}}, "set_paloma", "23fde8e2", 0},
		{"update_compass", contract.ExecuteMsg{UpdateCompass: &contract.UpdateCompass{NewCompass: addr}}, "update_compass", "6974af69", 1},
		{"update_refund_wallet", contract.ExecuteMsg{UpdateRefundWallet: &contract.UpdateRefundWallet{NewRefundWallet: addr}}, "update_refund_wallet", "c98856aa", 1},
		{"update_fee", contract.ExecuteMsg{UpdateFee: &contract.UpdateFee{Fee: contract.NewUint256(1000)}}, "update_fee", "fbd15955", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := c.Execute(ctx, owner, tc.msg)
			require.NoError(t, err)
			require.Len(t, resp.Messages, 1)

			payload := resp.Messages[0].Payload
			assert.Len(t, payload, 4+32*tc.argWords)
			assert.Equal(t, tc.selector, hexPrefix(payload))
			assert.Equal(t, "multiple-swap-job", resp.Messages[0].JobID)

			action, _ := resp.Attribute("action")
			assert.Equal(t, tc.action, action)
		})
	}
}

func hexPrefix(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 8)
	for _, c := range b[:4] {
		out = append(out, digits[c>>4], digits[c&0xf])
	}
	return string(out)
}

func TestAdminOperationsRejectNonOwner(t *testing.T) {
	c, st, _ := setup(t, 60)
	ctx := context.Background()

	msgs := []contract.ExecuteMsg{
		{SetPaloma: &contract.SetPaloma{}},
		{UpdateCompass: &contract.UpdateCompass{NewCompass: "not-even-an-address"}},
		{UpdateRefundWallet: &contract.UpdateRefundWallet{NewRefundWallet: "0x1111111111111111111111111111111111111111"}},
		{UpdateFee: &contract.UpdateFee{Fee: contract.NewUint256(1)}},
		{UpdateJobID: &contract.UpdateJobID{NewJobID: "hijacked"}},
	}
	for _, msg := range msgs {
		op, _ := msg.Operation()
		t.Run(op, func(t *testing.T) {
			resp, err := c.Execute(ctx, "paloma1intruder", msg)
			assert.ErrorIs(t, err, contract.ErrUnauthorized)
			assert.Nil(t, resp)

			_, err = c.Execute(ctx, "", msg)
			assert.ErrorIs(t, err, contract.ErrUnauthorized)
		})
	}

	state, err := st.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "multiple-swap-job", state.JobID)
	assert.Equal(t, 0, st.Len())
}

func TestAddressValidation(t *testing.T) {
	c, _, _ := setup(t, 60)
	ctx := context.Background()

	_, err := c.Execute(ctx, owner, contract.ExecuteMsg{UpdateCompass: &contract.UpdateCompass{NewCompass: "0x123"}})
	var verr *contract.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "new_compass", verr.Field)
	assert.ErrorIs(t, err, callabi.ErrInvalidAddress)

	_, err = c.Execute(ctx, owner, contract.ExecuteMsg{UpdateRefundWallet: &contract.UpdateRefundWallet{NewRefundWallet: ""}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "new_refund_wallet", verr.Field)

	_, err = c.Execute(ctx, owner, contract.ExecuteMsg{UpdateCompass: &contract.UpdateCompass{NewCompass: " 0x1111111111111111111111111111111111111111"}})
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, callabi.ErrInvalidAddress)
}

func TestUpdateJobID(t *testing.T) {
	c, _, _ := setup(t, 60)
	ctx := context.Background()

	resp, err := c.Execute(ctx, owner, contract.ExecuteMsg{UpdateJobID: &contract.UpdateJobID{NewJobID: "job-2"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Messages)

	raw, err := c.Query(ctx, contract.QueryMsg{GetJobID: &contract.GetJobID{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-2"}`, string(raw))

	resp, err = c.Execute(ctx, owner, contract.ExecuteMsg{SetPaloma: &contract.SetPaloma{}})
	require.NoError(t, err)
	assert.Equal(t, "job-2", resp.Messages[0].JobID)

	_, err = c.Execute(ctx, owner, contract.ExecuteMsg{UpdateJobID: &contract.UpdateJobID{}})
	assert.Equal(t, "validation", contract.Kind(err))
}

func TestInstantiate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c, err := contract.New(st)
	require.NoError(t, err)

	_, err = c.JobID(ctx)
	assert.Equal(t, "storage", contract.Kind(err))
	assert.ErrorIs(t, err, contract.ErrStateNotFound)

	_, err = c.Execute(ctx, owner, putSwap(deposit(1, 1, 1)))
	assert.Equal(t, "storage", contract.Kind(err))

	msg := contract.InstantiateMsg{RetryDelay: 60, JobID: "job", Creator: "c", Signers: []string{"s"}}
	resp, err := c.Instantiate(ctx, owner, msg)
	require.NoError(t, err)
	method, _ := resp.Attribute("method")
	assert.Equal(t, "instantiate", method)

	_, err = c.Instantiate(ctx, "someone-else", msg)
	assert.ErrorIs(t, err, contract.ErrAlreadyInstantiated)

	state, err := st.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, state.Owner)
}

func TestInstantiateValidation(t *testing.T) {
	c, err := contract.New(store.NewMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Instantiate(ctx, owner, contract.InstantiateMsg{JobID: ""})
	assert.Equal(t, "validation", contract.Kind(err))

	_, err = c.Instantiate(ctx, "", contract.InstantiateMsg{JobID: "job"})
	assert.Equal(t, "validation", contract.Kind(err))

	_, err = c.Instantiate(ctx, owner, contract.InstantiateMsg{JobID: "job", RetryDelay: 1 << 62})
	assert.Equal(t, "validation", contract.Kind(err))
}

type failingStore struct {
	*store.MemoryStore
	commitErr error
	commits   int
}

func (f *failingStore) Commit(ctx context.Context, m contract.Mutation) error {
	f.commits++
	if f.commitErr != nil {
		return f.commitErr
	}
	return f.MemoryStore.Commit(ctx, m)
}

func TestStorageFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{MemoryStore: store.NewMemoryStore()}
	c, err := contract.New(fs)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, owner, contract.InstantiateMsg{RetryDelay: 60, JobID: "job"})
	require.NoError(t, err)

	fs.commitErr = assert.AnError
	resp, err := c.Execute(ctx, "relayer", putSwap(deposit(1, 1, 1)))
	assert.Nil(t, resp)
	var serr *contract.StorageError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, fs.Len())
}

func TestUnauthorizedCallsDoNotCommit(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{MemoryStore: store.NewMemoryStore()}
	c, err := contract.New(fs)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, owner, contract.InstantiateMsg{RetryDelay: 60, JobID: "job"})
	require.NoError(t, err)
	before := fs.commits

	_, err = c.Execute(ctx, "intruder", contract.ExecuteMsg{UpdateJobID: &contract.UpdateJobID{NewJobID: "x"}})
	require.ErrorIs(t, err, contract.ErrUnauthorized)
	assert.Equal(t, before, fs.commits)
}

type lockingStore struct {
	*store.MemoryStore
	lockErr          error
	held             bool
	locks, unlocks   int
	commitsUnderLock int
}

func (l *lockingStore) Lock(_ context.Context) (func(), error) {
	if l.lockErr != nil {
		return nil, l.lockErr
	}
	l.locks++
	l.held = true
	return func() {
		l.held = false
		l.unlocks++
	}, nil
}

func (l *lockingStore) Commit(ctx context.Context, m contract.Mutation) error {
	if l.held {
		l.commitsUnderLock++
	}
	return l.MemoryStore.Commit(ctx, m)
}

func TestSharedStoreLockSpansReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	ls := &lockingStore{MemoryStore: store.NewMemoryStore()}
	c, err := contract.New(ls)
	require.NoError(t, err)

	_, err = c.Instantiate(ctx, owner, contract.InstantiateMsg{RetryDelay: 60, JobID: "job"})
	require.NoError(t, err)
	_, err = c.Execute(ctx, "relayer", putSwap(deposit(1, 1, 1)))
	require.NoError(t, err)
	_, err = c.Execute(ctx, "intruder", contract.ExecuteMsg{SetPaloma: &contract.SetPaloma{}})
	require.ErrorIs(t, err, contract.ErrUnauthorized)

	assert.Equal(t, 3, ls.locks)
	assert.Equal(t, 3, ls.unlocks)
	assert.Equal(t, 2, ls.commitsUnderLock)
	assert.False(t, ls.held)
}

func TestLockFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	ls := &lockingStore{MemoryStore: store.NewMemoryStore()}
	c, err := contract.New(ls)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, owner, contract.InstantiateMsg{RetryDelay: 60, JobID: "job"})
	require.NoError(t, err)

	ls.lockErr = assert.AnError
	_, err = c.Execute(ctx, "relayer", putSwap(deposit(1, 1, 1)))
	var serr *contract.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "lock", serr.Op)
	assert.Equal(t, 0, ls.Len())
}
