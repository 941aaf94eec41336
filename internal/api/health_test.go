package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/defi-pipeline/internal/models"
	"github.com/kjannette/defi-pipeline/internal/repository"
	"github.com/kjannette/defi-pipeline/internal/testutil"
)

func TestHealth_ReportsIngestionCheckpoint(t *testing.T) {
	pool := testutil.SetupPool(t)
	testutil.ResetTables(t, pool)

	s := NewServer(pool, 0, "", "*")

	getHealth := func() healthResponse {
		t.Helper()
		rr := httptest.NewRecorder()
		s.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp healthResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode health response: %v", err)
		}
		return resp
	}

	resp := getHealth()
	if resp.Status != "ok" || resp.Services.Database != "connected" {
		t.Fatalf("unexpected health: %+v", resp)
	}
	if resp.Ingestion.LastBlock != nil {
		t.Fatalf("expected null checkpoint on empty store, got %d", *resp.Ingestion.LastBlock)
	}

	trades := repository.NewTradeRepo(pool)
	_, err := trades.UpsertTrades(context.Background(), []models.Trade{{
		BlockNumber: 777,
		TxHash:      common.HexToHash("0xfeed01"),
		LogIndex:    0,
		PairAddress: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Sender:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount0In:   big.NewInt(1),
		Amount1In:   big.NewInt(0),
		Amount0Out:  big.NewInt(0),
		Amount1Out:  big.NewInt(2),
		Timestamp:   1_600_000_000,
	}})
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	resp = getHealth()
	if resp.Ingestion.LastBlock == nil || *resp.Ingestion.LastBlock != 777 {
		t.Fatalf("expected checkpoint 777, got %+v", resp.Ingestion)
	}
	t.Logf("Health: %+v", resp)
}
