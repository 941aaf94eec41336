package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/defi-pipeline/internal/models"
)

// PairTokens resolves token0/token1 of a Uniswap V2 pair contract.
// Best-effort enrichment: callers treat a failure as "addresses unknown".
func (c *Client) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	token0, err := c.callAddress(ctx, c.pairABI, pair, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := c.callAddress(ctx, c.pairABI, pair, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("token1: %w", err)
	}
	return token0, token1, nil
}

// TokenInfo reads ERC20 metadata for a token contract. A failure on any
// field fails the lookup as a whole; the caller records the unknown sentinel.
func (c *Client) TokenInfo(ctx context.Context, token common.Address) (*models.TokenInfo, error) {
	symbol, err := c.callString(ctx, token, "symbol")
	if err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}
	name, err := c.callString(ctx, token, "name")
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}

	data, err := c.erc20ABI.Pack("decimals")
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("decimals call: %w", err)
	}
	vals, err := c.erc20ABI.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("decimals: unpack: %w", err)
	}
	decimals, ok := vals[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("decimals: unexpected type %T", vals[0])
	}

	data, err = c.erc20ABI.Pack("totalSupply")
	if err != nil {
		return nil, err
	}
	out, err = c.CallContract(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("totalSupply call: %w", err)
	}
	vals, err = c.erc20ABI.Unpack("totalSupply", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("totalSupply: unpack: %w", err)
	}
	supply, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("totalSupply: unexpected type %T", vals[0])
	}

	return &models.TokenInfo{
		Address:     token,
		Symbol:      symbol,
		Name:        name,
		Decimals:    decimals,
		TotalSupply: supply,
	}, nil
}

func (c *Client) callString(ctx context.Context, to common.Address, method string) (string, error) {
	data, err := c.erc20ABI.Pack(method)
	if err != nil {
		return "", err
	}
	out, err := c.CallContract(ctx, to, data)
	if err != nil {
		return "", err
	}
	vals, err := c.erc20ABI.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return s, nil
}

func (c *Client) callAddress(ctx context.Context, contractABI abi.ABI, to common.Address, method string) (common.Address, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.CallContract(ctx, to, data)
	if err != nil {
		return common.Address{}, err
	}
	vals, err := contractABI.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return addr, nil
}
