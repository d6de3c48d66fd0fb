package dispatch

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"swaprelay/internal/callabi"
	"swaprelay/internal/contract"
)

// EthClient bypasses the scheduler and sends the payload straight to the compass contract.
// Intended for local chains and operator testing.
type EthClient struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	address   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
}

type EthClientConfig struct {
	RPCURL         string
	PrivateKeyHex  string
	CompassAddress string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	address, err := callabi.ParseAddress(cfg.CompassAddress)
	if err != nil {
		return nil, fmt.Errorf("compass address: %w", err)
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for direct dispatch")
	}
	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(callabi.CompassABI))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate

	return &EthClient{
		client:    cli,
		contract:  bound,
		address:   address,
		chainID:   chainID,
		transacts: txOpts,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Dispatch(ctx context.Context, env contract.Envelope) (Receipt, error) {
	if len(env.Payload) < 4 {
		return Receipt{}, fmt.Errorf("%w: payload too short for a function call", ErrInvalidEnvelope)
	}

	opts := *c.transacts
	opts.Context = ctx

	tx, err := c.contract.RawTransact(&opts, env.Payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("compass tx: %w", err)
	}
	hash := tx.Hash().Hex()
	return Receipt{ID: hash, TxHash: hash}, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) Close() {
	c.client.Close()
}
