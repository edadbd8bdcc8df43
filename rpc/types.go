package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"subledger/crypto"
	"subledger/native/subscription"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type purchaseRequest struct {
	Account      string `json:"account,omitempty"`
	Amount       string `json:"amount"`
	ReferralCode uint64 `json:"referralCode,omitempty"`
	Referrer     string `json:"referrer,omitempty"`
}

type grantRequest struct {
	Accounts []string `json:"accounts"`
	Seconds  string   `json:"seconds"`
}

type refundRequest struct {
	Accounts []string `json:"accounts"`
	TopUp    string   `json:"topUp,omitempty"`
}

type withdrawRequest struct {
	To     string `json:"to,omitempty"`
	Amount string `json:"amount,omitempty"`
}

type accountRequest struct {
	Account string `json:"account"`
}

type supplyCapRequest struct {
	Limit uint64 `json:"limit"`
}

type metadataRequest struct {
	ContractURI string `json:"contractUri"`
	TokenURI    string `json:"tokenUri"`
}

type referralCodeRequest struct {
	Code uint64 `json:"code"`
	Bps  uint32 `json:"bps,omitempty"`
}

type approveRequest struct {
	Amount string `json:"amount"`
}

type subscriptionResponse struct {
	Account          string `json:"account"`
	Exists           bool   `json:"exists"`
	RecordID         uint64 `json:"recordId,omitempty"`
	SecondsPurchased string `json:"secondsPurchased"`
	SecondsGranted   string `json:"secondsGranted"`
	PurchaseOffset   uint64 `json:"purchaseOffset"`
	GrantOffset      uint64 `json:"grantOffset"`
	RewardPoints     string `json:"rewardPoints"`
	RewardsWithdrawn string `json:"rewardsWithdrawn"`
	LastSlashAt      uint64 `json:"lastSlashAt"`
	Remaining        string `json:"remaining"`
	ExpiresAt        string `json:"expiresAt"`
	RewardBalance    string `json:"rewardBalance"`
	Active           bool   `json:"active"`
}

type ledgerResponse struct {
	Asset              string `json:"asset"`
	Custody            string `json:"custody"`
	Owner              string `json:"owner"`
	FeeRecipient       string `json:"feeRecipient"`
	TransferRecipient  string `json:"transferRecipient,omitempty"`
	RatePerSecond      string `json:"ratePerSecond"`
	MinPurchaseSeconds uint64 `json:"minPurchaseSeconds"`
	MinimumPurchase    string `json:"minimumPurchase"`
	RewardBps          uint32 `json:"rewardBps"`
	FeeBps             uint32 `json:"feeBps"`
	RewardHalvings     uint32 `json:"rewardHalvings"`
	RewardMultiplier   string `json:"rewardMultiplier"`
	DeployTime         uint64 `json:"deployTime"`
	TotalIn            string `json:"totalIn"`
	TotalOut           string `json:"totalOut"`
	CreatorBalance     string `json:"creatorBalance"`
	FeeBalance         string `json:"feeBalance"`
	RewardPoolBalance  string `json:"rewardPoolBalance"`
	RewardPoolLifetime string `json:"rewardPoolLifetime"`
	TotalPoints        string `json:"totalPoints"`
	IssuedRecords      uint64 `json:"issuedRecords"`
	SupplyCap          uint64 `json:"supplyCap"`
	Paused             bool   `json:"paused"`
	ContractURI        string `json:"contractUri"`
	TokenURI           string `json:"tokenUri"`
}

func formatAccount(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.Address(addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func subscriptionResponseFrom(view *subscription.View) subscriptionResponse {
	resp := subscriptionResponse{
		Account:          crypto.Address(view.Account).String(),
		SecondsPurchased: "0",
		SecondsGranted:   "0",
		RewardPoints:     "0",
		RewardsWithdrawn: "0",
		Remaining:        formatAmount(view.Remaining),
		ExpiresAt:        formatAmount(view.ExpiresAt),
		RewardBalance:    formatAmount(view.RewardBalance),
		Active:           view.Active,
	}
	if sub := view.Subscription; sub != nil {
		resp.Exists = true
		resp.RecordID = sub.RecordID
		resp.SecondsPurchased = formatAmount(sub.SecondsPurchased)
		resp.SecondsGranted = formatAmount(sub.SecondsGranted)
		resp.PurchaseOffset = sub.PurchaseOffset
		resp.GrantOffset = sub.GrantOffset
		resp.RewardPoints = formatAmount(sub.RewardPoints)
		resp.RewardsWithdrawn = formatAmount(sub.RewardsWithdrawn)
		resp.LastSlashAt = sub.LastSlashAt
	}
	return resp
}

func decodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAccount(raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return addr, nil
}

// parseOptionalAccount returns the zero account for an empty string.
func parseOptionalAccount(raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return parseAccount(raw)
}

func parseAccounts(raw []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		addr, err := parseAccount(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// parseAmount decodes a base-10 integer. Sign and range checks are left to
// the ledger so they surface with its error classes.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid integer %q", errBadRequest, raw)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadRequest) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Class: string(subscription.ClassValidation)})
		return
	}
	class, status := statusFor(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Class: string(class)})
}
