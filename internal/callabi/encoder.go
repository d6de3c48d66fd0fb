package callabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownMethod  = errors.New("unknown remote method")
	ErrArgumentCount  = errors.New("wrong number of arguments")
	ErrInvalidAddress = errors.New("invalid address")
)

// Encoder packs remote function calls against a parsed ABI table.
type Encoder struct {
	abi abi.ABI
}

// NewEncoder parses an ABI JSON document.
func NewEncoder(abiJSON string) (*Encoder, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &Encoder{abi: parsed}, nil
}

var compass = sync.OnceValues(func() (*Encoder, error) {
	return NewEncoder(CompassABI)
})

// Compass returns the shared encoder for CompassABI.
func Compass() (*Encoder, error) {
	return compass()
}

// Encode returns selector || packed arguments for method.
func (e *Encoder) Encode(method string, args ...interface{}) ([]byte, error) {
	m, ok := e.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgumentCount, m.Sig, len(m.Inputs), len(args))
	}
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.Sig, err)
	}
	return data, nil
}

// Selector returns the 4-byte function selector for method.
func (e *Encoder) Selector(method string) ([]byte, error) {
	m, ok := e.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return m.ID, nil
}

// Uint256FromUint32 widens v to a big-endian 256-bit word value.
func Uint256FromUint32(v uint32) *big.Int {
	return uint256.NewInt(uint64(v)).ToBig()
}

// Uint256Array converts a slice of 256-bit integers for packing into a uint256[] slot.
func Uint256Array(values []*uint256.Int) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = v.ToBig()
	}
	return out
}

// ParseAddress validates a 20-byte hex address with or without the 0x prefix.
// Surrounding whitespace is rejected, not trimmed.
func ParseAddress(s string) (common.Address, error) {
	if s != strings.TrimSpace(s) || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
