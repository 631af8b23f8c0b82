// Package ledger implements the versioned yield vault: per-account balances
// with a deposit fee, time-proportional yield, a delayed withdrawal workflow
// and role-gated administration, across three logic generations that share
// one state layout.
//
// A Ledger is not safe for concurrent use. Callers deliver operations one at
// a time (internal/service does this with a single mutex). Each operation
// either commits all of its effects, including the external asset transfer,
// or none of them.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

// Asset is the external transferable-asset ledger the vault debits and credits.
type Asset interface {
	TransferIn(ctx context.Context, from string, amount uint64) error
	TransferOut(ctx context.Context, to string, amount uint64) error
}

// Clock supplies the current time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() int64 { return time.Now().Unix() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

// Now calls f.
func (f ClockFunc) Now() int64 { return f() }

// Options carries the collaborators of a Ledger. Asset is required.
type Options struct {
	Asset  Asset
	Clock  Clock
	Events events.EventLogger
	Logger *logger.Logger
}

// Ledger runs ledger operations against a caller-owned State.
type Ledger struct {
	state  *State
	asset  Asset
	clock  Clock
	events events.EventLogger
	log    *logger.Logger

	// lastNow keeps time from running backwards between operations.
	lastNow int64
}

// New binds a ledger to state. A nil state starts an empty latest-generation ledger.
func New(state *State, opts Options) *Ledger {
	if state == nil {
		state = NewState(schema.Latest)
	}
	if state.Accounts == nil {
		state.Accounts = make(map[string]*Account)
	}
	if state.Roles == nil {
		state.Roles = roles.NewRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Events == nil {
		opts.Events = events.NoOpLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("ledger")
	}
	return &Ledger{
		state:  state,
		asset:  opts.Asset,
		clock:  opts.Clock,
		events: opts.Events,
		log:    opts.Logger,
	}
}

// State returns the state the ledger operates on.
func (l *Ledger) State() *State { return l.state }

// Generation returns the active logic generation.
func (l *Ledger) Generation() schema.Generation { return l.state.Generation }

func (l *Ledger) now() int64 {
	now := l.clock.Now()
	if now < l.lastNow {
		now = l.lastNow
	}
	l.lastNow = now
	return now
}

// guard checks the generation table and initialization before any operation runs.
func (l *Ledger) guard(op Op) error {
	if !Supports(l.state.Generation, op) {
		return ErrUnsupportedOperation
	}
	if op != OpInitialize && !l.state.Initialized() {
		return ErrNotInitialized
	}
	return nil
}

func (l *Ledger) requireRole(caller string, p roles.Permission) error {
	if !l.state.Roles.HasRole(caller, p) {
		return ErrUnauthorized
	}
	return nil
}

func normalizeIdentity(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidIdentity
	}
	return id, nil
}

// Initialize performs the single-use setup: asset, admin roles and deposit fee,
// plus the defaults of every generation up to the active one.
func (l *Ledger) Initialize(ctx context.Context, asset, admin string, depositFeeBps uint64) error {
	if err := l.guard(OpInitialize); err != nil {
		return err
	}
	if l.state.Initialized() {
		return ErrAlreadyInitialized
	}
	if depositFeeBps > BpsDenominator {
		return ErrFeeTooHigh
	}
	admin, err := normalizeIdentity(admin)
	if err != nil {
		return err
	}
	asset = strings.TrimSpace(asset)

	tx := l.begin()
	tx.globals.Asset = asset
	tx.globals.DepositFeeBps = depositFeeBps
	for g := schema.Gen2; g <= l.state.Generation; g++ {
		reinitialize(&tx.globals, g)
	}
	if err := l.state.Roles.Bootstrap(admin); err != nil {
		return ErrAlreadyInitialized
	}
	l.state.InitializedVersion = l.state.Generation

	tx.emit(events.NewEvent(events.EventLedgerInitialized).
		Actor(admin).
		At(l.now()).
		Metadata("asset", asset).
		Metadata("version", l.state.Generation.Version()).
		MetadataUint("deposit_fee_bps", depositFeeBps).
		Build())
	l.commit(ctx, tx)

	l.log.WithField("admin", admin).
		WithField("asset", asset).
		WithField("version", l.state.Generation.Version()).
		Info("ledger initialized")
	return nil
}

// GetImplementationVersion returns "1.0.0", "2.0.0" or "3.0.0".
func (l *Ledger) GetImplementationVersion() string {
	return l.state.Generation.Version()
}

// BalanceOf returns the balance of account.
func (l *Ledger) BalanceOf(account string) uint64 {
	if acct, ok := l.state.Accounts[strings.TrimSpace(account)]; ok {
		return acct.Balance
	}
	return 0
}

// TotalDeposits returns the sum of all balances.
func (l *Ledger) TotalDeposits() uint64 {
	return l.state.TotalDeposits
}

// GetDepositFee returns the deposit fee in basis points.
func (l *Ledger) GetDepositFee() uint64 {
	return l.state.DepositFeeBps
}

// AssetID returns the asset identifier configured at initialization.
func (l *Ledger) AssetID() string {
	return l.state.Asset
}

// HasRole reports whether identity holds permission.
func (l *Ledger) HasRole(identity string, p roles.Permission) bool {
	return l.state.Roles.HasRole(strings.TrimSpace(identity), p)
}

// Account returns a copy of the account record, if it exists.
func (l *Ledger) Account(account string) (Account, bool) {
	acct, ok := l.state.Accounts[strings.TrimSpace(account)]
	if !ok {
		return Account{}, false
	}
	return *acct.clone(), true
}
