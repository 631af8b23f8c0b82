package ledger

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

// Snapshot is the persisted form of a State, tagged with the generation that
// wrote it. Only the columns of that generation's layout carry data.
type Snapshot struct {
	Generation         schema.Generation `json:"generation"`
	InitializedVersion schema.Generation `json:"initialized_version"`

	Asset                  string `json:"asset"`
	TotalDeposits          uint64 `json:"total_deposits"`
	DepositFeeBps          uint64 `json:"deposit_fee_bps"`
	YieldRateBps           uint64 `json:"yield_rate_bps,omitempty"`
	DepositsPaused         bool   `json:"deposits_paused,omitempty"`
	WithdrawalDelaySeconds uint64 `json:"withdrawal_delay_seconds,omitempty"`

	Accounts []AccountRecord               `json:"accounts"`
	Roles    map[roles.Permission][]string `json:"roles"`
}

// AccountRecord is one row of the account table.
type AccountRecord struct {
	Identity string `json:"identity"`
	Account
}

// Snapshot captures the state in schema order with accounts sorted by identity.
func (s *State) Snapshot() *Snapshot {
	snap := &Snapshot{
		Generation:             s.Generation,
		InitializedVersion:     s.InitializedVersion,
		Asset:                  s.Asset,
		TotalDeposits:          s.TotalDeposits,
		DepositFeeBps:          s.DepositFeeBps,
		YieldRateBps:           s.YieldRateBps,
		DepositsPaused:         s.DepositsPaused,
		WithdrawalDelaySeconds: s.WithdrawalDelaySeconds,
		Accounts:               make([]AccountRecord, 0, len(s.Accounts)),
		Roles:                  s.Roles.Snapshot(),
	}
	for _, id := range s.Identities() {
		snap.Accounts = append(snap.Accounts, AccountRecord{Identity: id, Account: *s.Accounts[id].clone()})
	}
	return snap
}

// Snapshot captures the ledger's current state.
func (l *Ledger) Snapshot() *Snapshot {
	return l.state.Snapshot()
}

// Restore rebuilds a State from a snapshot. The state keeps the snapshot's
// generation; moving it forward is the job of Upgrade.
func Restore(snap *Snapshot) (*State, error) {
	if snap == nil || !snap.Generation.Valid() {
		return nil, ErrInvalidSnapshot
	}
	if snap.InitializedVersion > snap.Generation {
		return nil, fmt.Errorf("%w: initialized version %d above generation %d",
			ErrInvalidSnapshot, snap.InitializedVersion, snap.Generation)
	}
	st := &State{
		Generation:         snap.Generation,
		InitializedVersion: snap.InitializedVersion,
		Globals: Globals{
			Asset:                  snap.Asset,
			TotalDeposits:          snap.TotalDeposits,
			DepositFeeBps:          snap.DepositFeeBps,
			YieldRateBps:           snap.YieldRateBps,
			DepositsPaused:         snap.DepositsPaused,
			WithdrawalDelaySeconds: snap.WithdrawalDelaySeconds,
		},
		Accounts: make(map[string]*Account, len(snap.Accounts)),
		Roles:    roles.Restore(snap.Roles),
	}
	for _, rec := range snap.Accounts {
		if rec.Identity == "" {
			return nil, fmt.Errorf("%w: account without identity", ErrInvalidSnapshot)
		}
		if _, dup := st.Accounts[rec.Identity]; dup {
			return nil, fmt.Errorf("%w: duplicate account %q", ErrInvalidSnapshot, rec.Identity)
		}
		st.Accounts[rec.Identity] = rec.Account.clone()
	}
	return st, nil
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Accounts = make([]AccountRecord, len(s.Accounts))
	for i, rec := range s.Accounts {
		c.Accounts[i] = AccountRecord{Identity: rec.Identity, Account: *rec.Account.clone()}
	}
	c.Roles = make(map[roles.Permission][]string, len(s.Roles))
	for p, ids := range s.Roles {
		c.Roles[p] = append([]string(nil), ids...)
	}
	return &c
}

// RoleRows flattens the role table into sorted (permission, identity) pairs.
func (s *Snapshot) RoleRows() [][2]string {
	var rows [][2]string
	for p, ids := range s.Roles {
		for _, id := range ids {
			rows = append(rows, [2]string{string(p), id})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i][0] != rows[j][0] {
			return rows[i][0] < rows[j][0]
		}
		return rows[i][1] < rows[j][1]
	})
	return rows
}

// StateColumn returns the text form of a ledger_state column. ok is false
// for NULL.
func (s *Snapshot) StateColumn(column string) (value string, ok bool, err error) {
	switch column {
	case "asset":
		return s.Asset, true, nil
	case "total_deposits":
		return formatUint(s.TotalDeposits), true, nil
	case "deposit_fee_bps":
		return formatUint(s.DepositFeeBps), true, nil
	case "yield_rate_bps":
		return formatUint(s.YieldRateBps), true, nil
	case "deposits_paused":
		return strconv.FormatBool(s.DepositsPaused), true, nil
	case "withdrawal_delay_seconds":
		return formatUint(s.WithdrawalDelaySeconds), true, nil
	}
	return "", false, fmt.Errorf("%w: unknown state column %q", ErrInvalidSnapshot, column)
}

// SetStateColumn parses the text form of a ledger_state column.
func (s *Snapshot) SetStateColumn(column, value string, ok bool) error {
	if !ok {
		return nil
	}
	var err error
	switch column {
	case "asset":
		s.Asset = value
	case "total_deposits":
		s.TotalDeposits, err = parseUint(value)
	case "deposit_fee_bps":
		s.DepositFeeBps, err = parseUint(value)
	case "yield_rate_bps":
		s.YieldRateBps, err = parseUint(value)
	case "deposits_paused":
		s.DepositsPaused, err = strconv.ParseBool(value)
	case "withdrawal_delay_seconds":
		s.WithdrawalDelaySeconds, err = parseUint(value)
	default:
		return fmt.Errorf("%w: unknown state column %q", ErrInvalidSnapshot, column)
	}
	if err != nil {
		return fmt.Errorf("%w: column %s: %v", ErrInvalidSnapshot, column, err)
	}
	return nil
}

// Column returns the text form of a ledger_accounts column. ok is false for NULL.
func (r *AccountRecord) Column(column string) (value string, ok bool, err error) {
	switch column {
	case "balance":
		return formatUint(r.Balance), true, nil
	case "last_yield_update":
		if r.LastYieldUpdate == nil {
			return "", false, nil
		}
		return formatInt(*r.LastYieldUpdate), true, nil
	case "accumulated_yield":
		return formatUint(r.AccumulatedYield), true, nil
	case "pending_amount":
		if r.PendingWithdrawal == nil {
			return "", false, nil
		}
		return formatUint(r.PendingWithdrawal.Amount), true, nil
	case "pending_requested_at":
		if r.PendingWithdrawal == nil {
			return "", false, nil
		}
		return formatInt(r.PendingWithdrawal.RequestedAt), true, nil
	}
	return "", false, fmt.Errorf("%w: unknown account column %q", ErrInvalidSnapshot, column)
}

// SetColumn parses the text form of a ledger_accounts column.
func (r *AccountRecord) SetColumn(column, value string, ok bool) error {
	if !ok {
		return nil
	}
	var err error
	switch column {
	case "balance":
		r.Balance, err = parseUint(value)
	case "last_yield_update":
		var ts int64
		ts, err = strconv.ParseInt(value, 10, 64)
		r.LastYieldUpdate = &ts
	case "accumulated_yield":
		r.AccumulatedYield, err = parseUint(value)
	case "pending_amount":
		r.pending().Amount, err = parseUint(value)
	case "pending_requested_at":
		r.pending().RequestedAt, err = strconv.ParseInt(value, 10, 64)
	default:
		return fmt.Errorf("%w: unknown account column %q", ErrInvalidSnapshot, column)
	}
	if err != nil {
		return fmt.Errorf("%w: column %s: %v", ErrInvalidSnapshot, column, err)
	}
	return nil
}

func (r *AccountRecord) pending() *WithdrawalRequest {
	if r.PendingWithdrawal == nil {
		r.PendingWithdrawal = &WithdrawalRequest{}
	}
	return r.PendingWithdrawal
}

// Columns lists the non-key columns of table for the snapshot's generation.
func (s *Snapshot) Columns(table string) []string {
	layout, ok := schema.For(s.Generation)
	if !ok {
		return nil
	}
	var cols []string
	for _, f := range layout.Fields {
		if f.Table == table {
			cols = append(cols, f.Columns...)
		}
	}
	return cols
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
