package contract

import (
	"math"
	"strconv"
	"time"
)

// maxRetryDelay is the largest delay, in seconds, that still fits a time.Duration.
const maxRetryDelay = uint64(math.MaxInt64 / int64(time.Second))

// Metadata is forwarded verbatim in every envelope.
type Metadata struct {
	Creator string   `json:"creator"`
	Signers []string `json:"signers"`
}

func (m Metadata) clone() Metadata {
	signers := make([]string, len(m.Signers))
	copy(signers, m.Signers)
	return Metadata{Creator: m.Creator, Signers: signers}
}

// State is the contract's singleton configuration. Only JobID changes after instantiation.
type State struct {
	Owner      string   `json:"owner"`
	JobID      string   `json:"job_id"`
	RetryDelay uint64   `json:"retry_delay"`
	Metadata   Metadata `json:"metadata"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Metadata = s.Metadata.clone()
	return s
}

// RetryWindow is the minimum gap between two dispatches of the same deposit key.
func (s State) RetryWindow() time.Duration {
	return time.Duration(s.RetryDelay) * time.Second
}

// DepositKey identifies one retryable unit of work in the ledger.
type DepositKey struct {
	DepositID      uint32 `json:"deposit_id"`
	RemainingCount uint32 `json:"remaining_count"`
}

func (k DepositKey) String() string {
	return strconv.FormatUint(uint64(k.DepositID), 10) + ":" + strconv.FormatUint(uint64(k.RemainingCount), 10)
}

// Mutation is the full write set of one call. Stores apply it atomically.
type Mutation struct {
	State  *State
	Stamps map[DepositKey]time.Time
}

func (m Mutation) Empty() bool {
	return m.State == nil && len(m.Stamps) == 0
}
