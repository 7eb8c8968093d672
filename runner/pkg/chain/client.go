package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

// TxRequest describes a transaction to build, sign and send.
type TxRequest struct {
	// To is nil for contract creation.
	To    *common.Address
	Data  []byte
	Value *big.Int
	// GasLimit skips estimation when set.
	GasLimit uint64
	// GasMultiplier scales the estimate. Zero uses the client default.
	GasMultiplier float64
}

// Client is the chain surface wallet tasks use.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Send signs req with id's key, broadcasts it and waits for the receipt. A
	// reverted or unconfirmed transaction is a transient error.
	Send(ctx context.Context, id Identity, req TxRequest) (*types.Receipt, error)
	Close()
}

// Backend is the subset of ethclient.Client the client is built on.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	Logger *slog.Logger
	// URLs are tried in random order until one answers.
	URLs []string
	// HTTPClient carries the wallet's proxy when RPC traffic is proxied.
	HTTPClient *http.Client
	// ConfirmTimeout bounds the wait for a receipt.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	GasMultiplier  float64
	Clock          clockwork.Clock
	Rand           *rand.Rand
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 120 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasMultiplier == 0 {
		cfg.GasMultiplier = 1.2
	}
	if cfg.GasMultiplier < 1 {
		return errors.New("gas multiplier must be at least 1")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type EthClient struct {
	log     *slog.Logger
	cfg     Config
	backend Backend
	closeFn func()

	chainID *big.Int
}

// Dial connects to the first reachable RPC endpoint in cfg.URLs.
func Dial(ctx context.Context, cfg Config) (*EthClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.URLs) == 0 {
		return nil, errors.New("at least one rpc url is required")
	}

	urls := append([]string(nil), cfg.URLs...)
	random.Shuffle(cfg.Rand, urls)

	var errs []error
	for _, url := range urls {
		var opts []rpc.ClientOption
		if cfg.HTTPClient != nil {
			opts = append(opts, rpc.WithHTTPClient(cfg.HTTPClient))
		}
		rc, err := rpc.DialOptions(ctx, url, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		ec := ethclient.NewClient(rc)
		c, err := NewClient(ctx, cfg, ec, ec.Close)
		if err != nil {
			ec.Close()
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		cfg.Logger.Debug("chain: connected", "url", url, "chain_id", c.chainID)
		return c, nil
	}
	return nil, fmt.Errorf("failed to connect to any rpc: %w", errors.Join(errs...))
}

// NewClient wraps an existing backend. closeFn may be nil.
func NewClient(ctx context.Context, cfg Config, backend Backend, closeFn func()) (*EthClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return &EthClient{log: cfg.Logger, cfg: cfg, backend: backend, closeFn: closeFn, chainID: id}, nil
}

func (c *EthClient) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *EthClient) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, addr, nil)
}

func (c *EthClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *EthClient) Send(ctx context.Context, id Identity, req TxRequest) (*types.Receipt, error) {
	tx, err := c.buildTx(ctx, id, req)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), id.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifySendError(err)
	}
	c.log.Debug("chain: sent transaction", "hash", signed.Hash().Hex(), "nonce", signed.Nonce())

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, retry.Transientf("transaction %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

func (c *EthClient) buildTx(ctx context.Context, id Identity, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, id.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get head: %w", err)
	}

	gas := req.GasLimit
	if gas == 0 {
		est, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  id.Address,
			To:    req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, classifySendError(fmt.Errorf("failed to estimate gas: %w", err))
		}
		mult := req.GasMultiplier
		if mult == 0 {
			mult = c.cfg.GasMultiplier
		}
		gas = uint64(float64(est) * mult)
	}

	if head.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest tip: %w", err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        req.To,
			Value:     value,
			Data:      req.Data,
		}), nil
	}

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       req.To,
		Value:    value,
		Data:     req.Data,
	}), nil
}

func (c *EthClient) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := c.cfg.Clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			c.log.Debug("chain: receipt lookup failed", "hash", hash.Hex(), "error", err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, retry.Transientf("transaction %s not confirmed within %s", hash.Hex(), c.cfg.ConfirmTimeout)
			}
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func classifySendError(err error) error {
	if retry.IsRetryable(err) {
		return retry.Transientf("%w", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := err.Error()
	for _, terminal := range []string{"insufficient funds", "execution reverted"} {
		if containsFold(msg, terminal) {
			return retry.AsTerminal(err)
		}
	}
	return err
}
