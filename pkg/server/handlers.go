package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"coinsafe/pkg/account"
	"coinsafe/pkg/auth"
	"coinsafe/pkg/cache"
	"coinsafe/pkg/models"
	"coinsafe/pkg/rpc"
	"coinsafe/pkg/validation"
	"coinsafe/pkg/watcher"
)

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func statusFor(err error) int {
	var apiErr *rpc.APIError
	switch {
	case errors.Is(err, validation.ErrInvalid), errors.Is(err, watcher.ErrUnknownNetwork):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNoRefreshToken), errors.Is(err, auth.ErrRefreshFailed):
		return http.StatusUnauthorized
	case errors.Is(err, watcher.ErrNoWallet), errors.Is(err, account.ErrNoWallet), errors.Is(err, account.ErrWalletMismatch):
		return http.StatusConflict
	case errors.Is(err, rpc.ErrTransferRejected), errors.Is(err, rpc.ErrDepositNotSent), errors.Is(err, rpc.ErrRegisterRejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return http.StatusUnauthorized
		case http.StatusBadRequest:
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &validation.Error{Field: "body", Message: "malformed JSON body"}
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Status())
}

type resourceResult struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	results, err := s.watcher.Refresh(r.Context())

	out := make(map[cache.Resource]resourceResult, len(results))
	for res, rr := range results {
		item := resourceResult{Outcome: rr.Outcome.String()}
		if rr.Err != nil {
			item.Error = rr.Err.Error()
		}
		out[res] = item
	}

	status := http.StatusOK
	if err != nil && statusFor(err) == http.StatusUnauthorized {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]any{"results": out, "status": s.watcher.Status()})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network string `json:"network"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.watcher.SwitchNetwork(r.Context(), req.Network); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.watcher.Status())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.watcher.Logout(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := account.Restore(r.Context(), s.backend, s.watcher, req.Mnemonic); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.watcher.Status())
}

type credentialsRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// handleCreate answers with the recovery phrase. It is the only time the phrase is shown.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := account.Create(r.Context(), s.backend, s.watcher, req.PhoneNumber, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"mnemonic": created.Mnemonic.Phrase,
		"status":   s.watcher.Status(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := account.Login(r.Context(), s.backend, s.watcher, req.PhoneNumber, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.watcher.Status())
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	wl, err := s.wallet()
	if err != nil {
		s.writeError(w, err)
		return
	}
	payments, err := s.backend.PaymentHistory(r.Context(), wl.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// wallet returns the loaded wallet or ErrNoWallet.
func (s *Server) wallet() (models.Wallet, error) {
	wl := s.watcher.Wallet()
	if wl.Address == "" {
		return wl, watcher.ErrNoWallet
	}
	return wl, nil
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToAddress string `json:"to_address"`
		Amount    string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	wl, err := s.wallet()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := validation.Address(s.watcher.ActiveNetwork().AddressFormat, req.ToAddress); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := validation.Amount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.backend.Transfer(r.Context(), models.TransferRequest{
		ToAddress:  req.ToAddress,
		Amount:     amount.String(),
		PrivateKey: wl.PrivateKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.watcher.InvalidateBalances()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AmountKES   string `json:"amount_kes"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	wl, err := s.wallet()
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := validation.DepositAmount(req.AmountKES)
	if err != nil {
		s.writeError(w, err)
		return
	}
	phone, err := validation.Phone(req.PhoneNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.backend.Deposit(r.Context(), models.DepositRequest{
		AmountKES:     amount.String(),
		PhoneNumber:   phone,
		WalletAddress: wl.Address,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.watcher.InvalidateBalances()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      string `json:"amount"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	wl, err := s.wallet()
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := validation.Amount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	phone, err := validation.Phone(req.PhoneNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.backend.Withdraw(r.Context(), models.WithdrawRequest{
		Amount:      amount.String(),
		PhoneNumber: phone,
		PrivateKey:  wl.PrivateKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.watcher.InvalidateBalances()
	writeJSON(w, http.StatusOK, res)
}
