package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/httputil"
	"github.com/R3E-Network/vault_ledger/internal/middleware"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

type amountRequest struct {
	Amount Amount `json:"amount"`
}

type valueRequest struct {
	Value Amount `json:"value"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "ok",
		"version": h.svc.Ledger().Version,
		"dirty":   h.svc.Dirty(),
	}
	if err := h.svc.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store"] = err.Error()
	}
	httputil.WriteJSON(w, status, body)
}

func (h *handler) ledger(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.Ledger())
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Account(mux.Vars(r)["account"])
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, view)
}

func (h *handler) userYield(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	yield, err := h.svc.UserYield(account)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"account": account, "yield": Amount(yield)})
}

func (h *handler) withdrawalRequest(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.WithdrawalRequest(mux.Vars(r)["account"])
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, view)
}

func (h *handler) initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset         string `json:"asset"`
		Admin         string `json:"admin"`
		DepositFeeBps Amount `json:"deposit_fee_bps"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := h.svc.Initialize(r.Context(), req.Asset, req.Admin, uint64(req.DepositFeeBps)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.APIResponse{Success: true, Data: h.svc.Ledger()})
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	credited, err := h.svc.Deposit(r.Context(), caller(r), uint64(req.Amount))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"credited": Amount(credited)})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := h.svc.Withdraw(r.Context(), caller(r), uint64(req.Amount)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"withdrawn": req.Amount})
}

func (h *handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := h.svc.RequestWithdrawal(r.Context(), caller(r), uint64(req.Amount)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	view, err := h.svc.WithdrawalRequest(caller(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, httputil.APIResponse{Success: true, Data: view})
}

func (h *handler) executeWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "paid", h.svc.ExecuteWithdrawal)
}

func (h *handler) emergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "paid", h.svc.EmergencyWithdraw)
}

func (h *handler) claimYield(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "claimed", h.svc.ClaimYield)
}

func (h *handler) payout(w http.ResponseWriter, r *http.Request, field string, op func(context.Context, string) (uint64, error)) {
	amount, err := op(r.Context(), caller(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{field: Amount(amount)})
}

func (h *handler) settleYield(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if err := h.svc.SettleYield(r.Context(), account); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.account(w, r)
}

func (h *handler) setDepositFee(w http.ResponseWriter, r *http.Request) {
	h.setValue(w, r, h.svc.SetDepositFee)
}

func (h *handler) setYieldRate(w http.ResponseWriter, r *http.Request) {
	h.setValue(w, r, h.svc.SetYieldRate)
}

func (h *handler) setWithdrawalDelay(w http.ResponseWriter, r *http.Request) {
	h.setValue(w, r, h.svc.SetWithdrawalDelay)
}

func (h *handler) setValue(w http.ResponseWriter, r *http.Request, op func(context.Context, string, uint64) error) {
	var req valueRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := op(r.Context(), caller(r), uint64(req.Value)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, h.svc.Ledger())
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.svc.PauseDeposits)
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.svc.UnpauseDeposits)
}

func (h *handler) adminAction(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	if err := op(r.Context(), caller(r)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, h.svc.Ledger())
}

func (h *handler) grantRole(w http.ResponseWriter, r *http.Request) {
	h.roleAction(w, r, h.svc.GrantRole)
}

func (h *handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	h.roleAction(w, r, h.svc.RevokeRole)
}

func (h *handler) roleAction(w http.ResponseWriter, r *http.Request, op func(context.Context, string, roles.Permission, string) error) {
	vars := mux.Vars(r)
	p, ok := roles.ParsePermission(vars["permission"])
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "unknown_permission", "unknown permission "+strconv.Quote(vars["permission"]))
		return
	}
	if err := op(r.Context(), caller(r), p, vars["identity"]); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"permission": string(p), "identity": vars["identity"]})
}

func (h *handler) upgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Generation GenerationParam `json:"generation"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	target := schema.Generation(req.Generation)
	if !target.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "generation is required")
		return
	}
	if err := h.svc.Upgrade(r.Context(), caller(r), target); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, h.svc.Ledger())
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	log := h.svc.Events()
	var out []events.Event
	switch {
	case q.Get("account") != "":
		out = log.RecentByAccount(q.Get("account"), limit)
	case q.Get("type") != "":
		out = log.RecentByType(events.EventType(q.Get("type")), limit)
	default:
		out = log.Recent(limit)
	}
	if out == nil {
		out = []events.Event{}
	}
	httputil.WriteSuccess(w, out)
}

func caller(r *http.Request) string {
	return middleware.CallerFrom(r.Context())
}
