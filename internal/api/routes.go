package api

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/defi-pipeline/internal/export"
)

func (s *Server) handleDailyVolume(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r, 30)

	volumes, err := s.tradeRepo.DailyVolume(r.Context(), days)
	if err != nil {
		fmt.Printf("Error fetching daily volume: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch daily volume")
		return
	}
	writeJSON(w, http.StatusOK, volumes)
}

func (s *Server) handleTopPairs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10)

	pairs, err := s.tradeRepo.TopPairs(r.Context(), limit)
	if err != nil {
		fmt.Printf("Error fetching top pairs: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch top pairs")
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (s *Server) handleTopWallets(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10)

	wallets, err := s.walletRepo.Top(r.Context(), limit)
	if err != nil {
		fmt.Printf("Error fetching top wallets: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch top wallets")
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	stat, err := s.walletRepo.Get(r.Context(), common.HexToAddress(addr))
	if err != nil {
		fmt.Printf("Error fetching wallet %s: %v\n", addr, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch wallet")
		return
	}
	if stat == nil {
		writeError(w, http.StatusNotFound, "wallet has no recorded trades")
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}

	info, err := s.tokenRepo.Get(r.Context(), common.HexToAddress(addr))
	if err != nil {
		fmt.Printf("Error fetching token %s: %v\n", addr, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch token")
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "token not cached")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleExportTrades(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	if err := export.Trades(r.Context(), s.tradeRepo, w); err != nil {
		fmt.Printf("Error exporting trades: %v\n", err)
	}
}

func (s *Server) handleExportWallets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="wallets.csv"`)
	if err := export.Wallets(r.Context(), s.walletRepo, w); err != nil {
		fmt.Printf("Error exporting wallets: %v\n", err)
	}
}

func (s *Server) handleExportTokens(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="tokens.csv"`)
	if err := export.Tokens(r.Context(), s.tokenRepo, w); err != nil {
		fmt.Printf("Error exporting tokens: %v\n", err)
	}
}
