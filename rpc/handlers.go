package rpc

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"subledger/native/subscription"
	"subledger/rpc/middleware"
)

const assetToken = "token"

func callerOf(r *http.Request) [20]byte {
	caller, _ := middleware.CallerFromContext(r.Context())
	return caller
}

// amountOp runs fn through the ledger and writes the amount it returns or
// the classified error.
func (s *Server) amountOp(w http.ResponseWriter, r *http.Request, op string, fn func(*subscription.Engine) (*big.Int, error)) {
	var amount *big.Int
	err := s.ledger.Do(r.Context(), op, func(e *subscription.Engine) error {
		var err error
		amount, err = fn(e)
		return err
	})
	if err != nil {
		s.logger.Info("ledger call rejected", "op", op, "class", string(subscription.ClassOf(err)), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatAmount(amount)})
}

func (s *Server) plainOp(w http.ResponseWriter, r *http.Request, op string, fn func(*subscription.Engine) error) {
	if err := s.ledger.Do(r.Context(), op, fn); err != nil {
		s.logger.Info("ledger call rejected", "op", op, "class", string(subscription.ClassOf(err)), "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := parseOptionalAccount(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	var referral *subscription.Referral
	if req.ReferralCode != 0 || req.Referrer != "" {
		referrer, err := parseOptionalAccount(req.Referrer)
		if err != nil {
			writeError(w, err)
			return
		}
		referral = &subscription.Referral{Code: req.ReferralCode, Referrer: referrer}
	}
	call := s.ledger.Attach(callerOf(r), amount)
	var view *subscription.View
	err = s.ledger.Do(r.Context(), "purchase", func(e *subscription.Engine) error {
		sub, err := e.Purchase(call, account, amount, referral)
		if err != nil {
			return err
		}
		holder := account
		if holder == ([20]byte{}) {
			holder = call.From
		}
		view, err = e.Subscription(holder)
		if err != nil {
			return err
		}
		view.Subscription = sub
		return nil
	})
	if err != nil {
		s.logger.Info("ledger call rejected", "op", "purchase", "class", string(subscription.ClassOf(err)), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponseFrom(view))
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	accounts, err := parseAccounts(req.Accounts)
	if err != nil {
		writeError(w, err)
		return
	}
	seconds, err := parseAmount(req.Seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "grant", func(e *subscription.Engine) error {
		return e.GrantTime(call, accounts, seconds)
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	accounts, err := parseAccounts(req.Accounts)
	if err != nil {
		writeError(w, err)
		return
	}
	topUp, err := parseAmount(req.TopUp)
	if err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), topUp)
	s.amountOp(w, r, "refund", func(e *subscription.Engine) (*big.Int, error) {
		return e.Refund(call, topUp, accounts)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseOptionalAccount(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.amountOp(w, r, "withdraw", func(e *subscription.Engine) (*big.Int, error) {
		return e.Withdraw(call, to, amount)
	})
}

func (s *Server) handleTransferBalances(w http.ResponseWriter, r *http.Request) {
	call := s.ledger.Attach(callerOf(r), nil)
	s.amountOp(w, r, "transfer_balances", func(e *subscription.Engine) (*big.Int, error) {
		return e.TransferAllBalances(call)
	})
}

func (s *Server) handleTransferFees(w http.ResponseWriter, r *http.Request) {
	call := s.ledger.Attach(callerOf(r), nil)
	s.amountOp(w, r, "transfer_fees", func(e *subscription.Engine) (*big.Int, error) {
		return e.TransferFees(call)
	})
}

func (s *Server) handleWithdrawRewards(w http.ResponseWriter, r *http.Request) {
	call := s.ledger.Attach(callerOf(r), nil)
	s.amountOp(w, r, "withdraw_rewards", func(e *subscription.Engine) (*big.Int, error) {
		return e.WithdrawRewards(call)
	})
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := parseAccount(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.amountOp(w, r, "slash_rewards", func(e *subscription.Engine) (*big.Int, error) {
		return e.SlashRewards(call, target)
	})
}

func (s *Server) handleRecordTransfer(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseOptionalAccount(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "transfer_record", func(e *subscription.Engine) error {
		return e.TransferRecord(call, to)
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.ledger.Asset() != assetToken {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "approve requires the token asset", Class: string(subscription.ClassPrecondition)})
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if err := s.ledger.Approve(r.Context(), callerOf(r), amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "pause", func(e *subscription.Engine) error { return e.Pause(call) })
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "unpause", func(e *subscription.Engine) error { return e.Unpause(call) })
}

func (s *Server) handleSupplyCap(w http.ResponseWriter, r *http.Request) {
	var req supplyCapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "set_supply_cap", func(e *subscription.Engine) error {
		return e.SetSupplyCap(call, req.Limit)
	})
}

// accountAdminOp decodes {"account": …} and applies fn. An empty account is
// passed through as the zero account so the ledger can apply its own rules.
func (s *Server) accountAdminOp(w http.ResponseWriter, r *http.Request, op string, fn func(*subscription.Engine, subscription.Call, [20]byte) error) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := parseOptionalAccount(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, op, func(e *subscription.Engine) error { return fn(e, call, account) })
}

func (s *Server) handleTransferRecipient(w http.ResponseWriter, r *http.Request) {
	s.accountAdminOp(w, r, "set_transfer_recipient", func(e *subscription.Engine, call subscription.Call, account [20]byte) error {
		return e.SetTransferRecipient(call, account)
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	s.accountAdminOp(w, r, "transfer_ownership", func(e *subscription.Engine, call subscription.Call, account [20]byte) error {
		return e.TransferOwnership(call, account)
	})
}

func (s *Server) handleFeeRecipient(w http.ResponseWriter, r *http.Request) {
	s.accountAdminOp(w, r, "update_fee_recipient", func(e *subscription.Engine, call subscription.Call, account [20]byte) error {
		return e.UpdateFeeRecipient(call, account)
	})
}

func (s *Server) handleRenounceFees(w http.ResponseWriter, r *http.Request) {
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "renounce_fees", func(e *subscription.Engine) error { return e.RenounceFees(call) })
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "set_metadata", func(e *subscription.Engine) error {
		return e.SetMetadata(call, req.ContractURI, req.TokenURI)
	})
}

func (s *Server) handleCreateReferralCode(w http.ResponseWriter, r *http.Request) {
	var req referralCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "create_referral_code", func(e *subscription.Engine) error {
		return e.CreateReferralCode(call, req.Code, req.Bps)
	})
}

func (s *Server) handleDestroyReferralCode(w http.ResponseWriter, r *http.Request) {
	var req referralCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	call := s.ledger.Attach(callerOf(r), nil)
	s.plainOp(w, r, "destroy_referral_code", func(e *subscription.Engine) error {
		return e.DestroyReferralCode(call, req.Code)
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	resp := ledgerResponse{Asset: s.ledger.Asset(), Custody: formatAccount(s.ledger.Custody())}
	err := s.ledger.View(func(e *subscription.Engine) error {
		params, err := e.Params()
		if err != nil {
			return err
		}
		g, err := e.Globals()
		if err != nil {
			return err
		}
		multiplier, err := e.RewardMultiplier()
		if err != nil {
			return err
		}
		resp.Owner = formatAccount(g.Owner)
		resp.FeeRecipient = formatAccount(g.FeeRecipient)
		resp.TransferRecipient = formatAccount(g.TransferRecipient)
		resp.RatePerSecond = formatAmount(params.RatePerSecond)
		resp.MinPurchaseSeconds = params.MinPurchaseSeconds
		resp.MinimumPurchase = formatAmount(params.MinimumPurchase())
		resp.RewardBps = params.RewardBps
		resp.RewardHalvings = params.RewardHalvings
		resp.DeployTime = params.DeployTime
		resp.RewardMultiplier = formatAmount(multiplier)
		resp.FeeBps = g.FeeBps
		resp.TotalIn = formatAmount(g.TotalIn)
		resp.TotalOut = formatAmount(g.TotalOut)
		resp.CreatorBalance = formatAmount(g.CreatorBalance())
		resp.FeeBalance = formatAmount(g.FeeBalance)
		resp.RewardPoolBalance = formatAmount(g.RewardPoolBalance)
		resp.RewardPoolLifetime = formatAmount(g.RewardPoolLifetime)
		resp.TotalPoints = formatAmount(g.TotalPoints)
		resp.IssuedRecords = g.IssuedRecords
		resp.SupplyCap = g.SupplyCap
		resp.ContractURI = g.ContractURI
		resp.TokenURI = g.TokenURI
		resp.Paused = e.Paused()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	var view *subscription.View
	err = s.ledger.View(func(e *subscription.Engine) error {
		view, err = e.Subscription(account)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponseFrom(view))
}

func (s *Server) handleRewardBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	var amount *big.Int
	err = s.ledger.View(func(e *subscription.Engine) error {
		amount, err = e.RewardBalance(account)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatAmount(amount)})
}

func (s *Server) handleReferralCode(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.ParseUint(chi.URLParam(r, "code"), 10, 64)
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	var bps uint32
	err = s.ledger.View(func(e *subscription.Engine) error {
		bps, err = e.ReferralBps(code)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, referralCodeRequest{Code: code, Bps: bps})
}

func (s *Server) handleRecordOwner(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	owner, ok, err := s.ledger.RecordOwner(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, subscription.ErrNoSubscription)
		return
	}
	writeJSON(w, http.StatusOK, accountRequest{Account: formatAccount(owner)})
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := s.ledger.WalletBalance(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatAmount(amount)})
}
