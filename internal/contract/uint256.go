package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var errNotDecimal = errors.New("expected a decimal string")

// Uint256 is an unsigned 256-bit integer carried on the wire as a quoted decimal string.
type Uint256 struct {
	v uint256.Int
}

func NewUint256(v uint64) Uint256 {
	var u Uint256
	u.v.SetUint64(v)
	return u
}

// ParseUint256 parses a base-10 string of at most 78 digits.
func ParseUint256(s string) (Uint256, error) {
	if s == "" {
		return Uint256{}, errNotDecimal
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Uint256{}, fmt.Errorf("%w: %q", errNotDecimal, s)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Uint256{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return Uint256{v: *v}, nil
}

func (u Uint256) Big() *big.Int { return u.v.ToBig() }

// Int returns a copy as a holiman uint256.
func (u Uint256) Int() *uint256.Int { return new(uint256.Int).Set(&u.v) }

func (u Uint256) String() string { return u.v.Dec() }

func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.v.Dec())
}

func (u *Uint256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errNotDecimal
	}
	parsed, err := ParseUint256(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
