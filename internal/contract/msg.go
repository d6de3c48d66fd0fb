package contract

import (
	"errors"
	"fmt"
	"strings"
)

// InstantiateMsg is the creation input.
type InstantiateMsg struct {
	RetryDelay uint64   `json:"retry_delay"`
	JobID      string   `json:"job_id"`
	Creator    string   `json:"creator"`
	Signers    []string `json:"signers"`
}

// Deposit is one pending withdrawal handed in by a relayer.
type Deposit struct {
	DepositID      uint32  `json:"deposit_id"`
	RemainingCount uint32  `json:"remaining_count"`
	AmountOutMin   Uint256 `json:"amount_out_min"`
}

func (d Deposit) Key() DepositKey {
	return DepositKey{DepositID: d.DepositID, RemainingCount: d.RemainingCount}
}

// ExecuteMsg is an externally tagged union; exactly one field must be set.
type ExecuteMsg struct {
	PutSwap            *PutSwap            `json:"put_swap,omitempty"`
	SetPaloma          *SetPaloma          `json:"set_paloma,omitempty"`
	UpdateCompass      *UpdateCompass      `json:"update_compass,omitempty"`
	UpdateRefundWallet *UpdateRefundWallet `json:"update_refund_wallet,omitempty"`
	UpdateFee          *UpdateFee          `json:"update_fee,omitempty"`
	UpdateJobID        *UpdateJobID        `json:"update_job_id,omitempty"`
}

type PutSwap struct {
	Deposits []Deposit `json:"deposits"`
}

type SetPaloma struct{}

type UpdateCompass struct {
	NewCompass string `json:"new_compass"`
}

type UpdateRefundWallet struct {
	NewRefundWallet string `json:"new_refund_wallet"`
}

type UpdateFee struct {
	Fee Uint256 `json:"fee"`
}

type UpdateJobID struct {
	NewJobID string `json:"new_job_id"`
}

var errVariant = errors.New("exactly one operation must be set")

// Operation returns the wire name of the single variant carried by m.
func (m ExecuteMsg) Operation() (string, error) {
	var names []string
	if m.PutSwap != nil {
		names = append(names, "put_swap")
	}
	if m.SetPaloma != nil {
		names = append(names, "set_paloma")
	}
	if m.UpdateCompass != nil {
		names = append(names, "update_compass")
	}
	if m.UpdateRefundWallet != nil {
		names = append(names, "update_refund_wallet")
	}
	if m.UpdateFee != nil {
		names = append(names, "update_fee")
	}
	if m.UpdateJobID != nil {
		names = append(names, "update_job_id")
	}
	if len(names) != 1 {
		if len(names) > 1 {
			return "", invalid("message", fmt.Errorf("%w, got %s", errVariant, strings.Join(names, ", ")))
		}
		return "", invalid("message", errVariant)
	}
	return names[0], nil
}

// QueryMsg is the read-only counterpart of ExecuteMsg.
type QueryMsg struct {
	GetJobID *GetJobID `json:"get_job_id,omitempty"`
}

type GetJobID struct{}

type GetJobIDResponse struct {
	JobID string `json:"job_id"`
}

// Envelope is the single outgoing instruction for the scheduled job runner.
type Envelope struct {
	JobID    string   `json:"job_id"`
	Payload  []byte   `json:"payload"`
	Metadata Metadata `json:"metadata"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is what a successful call hands back to the caller.
type Response struct {
	Messages   []Envelope  `json:"messages"`
	Attributes []Attribute `json:"attributes"`
}

func NewResponse() *Response {
	return &Response{Messages: []Envelope{}, Attributes: []Attribute{}}
}

func (r *Response) AddMessage(env Envelope) *Response {
	r.Messages = append(r.Messages, env)
	return r
}

func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// Attribute returns the first value stored under key.
func (r *Response) Attribute(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
