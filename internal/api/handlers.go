package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"skoll/internal/asset"
	"skoll/internal/book"
	"skoll/internal/engine"
	"skoll/internal/ledger"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps engine errors onto HTTP statuses. Every failure is
// atomic server-side, so clients may resubmit with corrected
// parameters.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrAssetNotTradable):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, engine.ErrFaucetLimit):
		return http.StatusConflict
	case errors.Is(err, engine.ErrFillBudget):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrFaucetDisabled):
		return http.StatusForbidden
	case errors.Is(err, asset.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, engine.ErrSettlement):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func parseSide(s string) (book.Side, bool) {
	switch s {
	case "buy":
		return book.Buy, true
	case "sell":
		return book.Sell, true
	}
	return 0, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, assetsResponse{
		Quote:  s.engine.Quote(),
		Assets: s.engine.Assets(),
	})
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.RegisterAsset(req.Asset); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"asset": req.Asset})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.Deposit(req.Trader, req.Asset, req.Amount); err != nil {
		respondError(w, err)
		return
	}
	s.respondBalance(w, req.Trader, req.Asset)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.Withdraw(req.Trader, req.Asset, req.Amount); err != nil {
		respondError(w, err)
		return
	}
	s.respondBalance(w, req.Trader, req.Asset)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.Faucet(req.Trader, req.Asset, req.Amount); err != nil {
		respondError(w, err)
		return
	}
	s.respondBalance(w, req.Trader, req.Asset)
}

func (s *Server) respondBalance(w http.ResponseWriter, trader, symbol string) {
	acct, err := s.engine.Balances(trader, symbol)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, balanceResponse{
		Trader:    trader,
		Asset:     symbol,
		Available: acct.Available,
		Locked:    acct.Locked,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respondBalance(w, vars["trader"], vars["asset"])
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decode(w, r, &req) {
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "side must be \"buy\" or \"sell\""})
		return
	}

	order, fills, err := s.engine.PlaceOrder(req.Trader, side, req.Asset, req.Amount, req.Price)
	if err != nil {
		respondError(w, err)
		return
	}
	if fills == nil {
		fills = []engine.Trade{}
	}
	respondJSON(w, http.StatusOK, placeOrderResponse{
		Order:  viewOf(*order),
		Fills:  fills,
		Rested: order.Remaining() > 0,
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	side, ok := parseSide(vars["side"])
	if !ok {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "side must be \"buy\" or \"sell\""})
		return
	}

	orders, err := s.engine.GetOrders(vars["asset"], side)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]orderView, len(orders))
	for i, o := range orders {
		views[i] = viewOf(o)
	}
	respondJSON(w, http.StatusOK, views)
}
