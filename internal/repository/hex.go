package repository

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgtype"
)

// Addresses and hashes are stored as lowercase 0x-prefixed hex text.

func addrText(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func hashText(h common.Hash) string {
	return strings.ToLower(h.Hex())
}

func optAddrText(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := addrText(*a)
	return &s
}

func optAddr(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

// numeric wraps a big.Int for a NUMERIC(78,0) column.
func numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

// bigFromText parses the ::text projection of a NUMERIC(78,0) column.
func bigFromText(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}
