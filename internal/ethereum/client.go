package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/kjannette/defi-pipeline/internal/retry"
)

// Client wraps the remote chain endpoint. Every call passes through the
// shared rate limiter and the retry decorator, so callers never see a
// transient fault until the retry budget is spent.
type Client struct {
	rpc      *ethclient.Client
	limiter  *rate.Limiter
	retry    retry.Config
	pairABI  abi.ABI
	erc20ABI abi.ABI
}

// TxContext is the transaction-level context attached to a decoded trade.
type TxContext struct {
	GasPrice uint64
	From     common.Address
	To       *common.Address
}

// ReceiptContext is the receipt-level context attached to a decoded trade.
type ReceiptContext struct {
	GasUsed uint64
}

func NewClient(rpcURL string, limiter *rate.Limiter, retryCfg retry.Config) (*Client, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}

	pABI, err := abi.JSON(mustPairABI())
	if err != nil {
		return nil, fmt.Errorf("parse pair ABI: %w", err)
	}
	eABI, err := abi.JSON(mustERC20ABI())
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Client{
		rpc:      rpc,
		limiter:  limiter,
		retry:    retryCfg,
		pairABI:  pABI,
		erc20ABI: eABI,
	}, nil
}

func (c *Client) Close() { c.rpc.Close() }

// LatestBlockNumber returns the head block number of the configured chain.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return retry.Value(ctx, c.retry, func() (uint64, error) {
		if err := c.wait(ctx); err != nil {
			return 0, err
		}
		n, err := c.rpc.BlockNumber(ctx)
		if err != nil {
			return 0, classify("eth_blockNumber", err)
		}
		return n, nil
	})
}

// FilterLogs returns all logs in [fromBlock, toBlock] whose first topic is
// topic0. A provider span rejection surfaces as RangeTooLargeError.
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, topic0 common.Hash) ([]types.Log, error) {
	query := goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Topics:    [][]common.Hash{{topic0}},
	}

	logs, err := retry.Value(ctx, c.retry, func() ([]types.Log, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		logs, err := c.rpc.FilterLogs(ctx, query)
		if err != nil {
			return nil, classify("eth_getLogs", err)
		}
		return logs, nil
	})
	if err != nil {
		var rtl *RangeTooLargeError
		if errors.As(err, &rtl) {
			rtl.From, rtl.To = fromBlock, toBlock
		}
		return nil, err
	}
	return logs, nil
}

// BlockTimestamp returns the timestamp (seconds) of the given block.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return retry.Value(ctx, c.retry, func() (uint64, error) {
		if err := c.wait(ctx); err != nil {
			return 0, err
		}
		header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return 0, classify("eth_getBlockByNumber", err)
		}
		return header.Time, nil
	})
}

// Transaction returns the gas price and addresses of the given transaction.
func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*TxContext, error) {
	return retry.Value(ctx, c.retry, func() (*TxContext, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		tx, _, err := c.rpc.TransactionByHash(ctx, hash)
		if err != nil {
			return nil, classify("eth_getTransactionByHash", err)
		}
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("recover tx sender: %w", err))
		}
		return &TxContext{
			GasPrice: tx.GasPrice().Uint64(),
			From:     sender,
			To:       tx.To(),
		}, nil
	})
}

// Receipt returns the gas used by the given transaction.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*ReceiptContext, error) {
	return retry.Value(ctx, c.retry, func() (*ReceiptContext, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, classify("eth_getTransactionReceipt", err)
		}
		return &ReceiptContext{GasUsed: receipt.GasUsed}, nil
	})
}

// CallContract performs a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return retry.Value(ctx, c.retry, func() ([]byte, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		msg := goethereum.CallMsg{To: &to, Data: data}
		out, err := c.rpc.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, classify("eth_call", err)
		}
		return out, nil
	})
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return retry.Permanent(err)
	}
	return nil
}

