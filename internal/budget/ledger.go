// Package budget tracks AI spend against a monthly ceiling.
package budget

import (
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/model"
)

// ErrInvalidCeiling is returned when the ceiling is not positive.
var ErrInvalidCeiling = eris.New("budget: ceiling must be > 0")

// Amounts are held in micro-dollars so that concurrent reserve/commit
// sequences never drift through float rounding.
const microPerUSD = 1_000_000

func toMicro(usd float64) int64 {
	return int64(math.Ceil(usd*microPerUSD - 1e-6))
}

func toUSD(micro int64) float64 {
	return float64(micro) / microPerUSD
}

// Reservation is a granted hold on part of the remaining budget. It must be
// settled exactly once with Commit or Release.
type Reservation struct {
	id     uint64
	amount int64
}

// Amount returns the reserved amount in USD.
func (r *Reservation) Amount() float64 {
	if r == nil {
		return 0
	}
	return toUSD(r.amount)
}

// Ledger is the shared spend counter. All methods are safe for concurrent
// use; a reservation is granted only if spent plus all outstanding
// reservations stays within the ceiling.
type Ledger struct {
	mu          sync.Mutex
	ceiling     int64
	spent       int64
	reserved    int64
	overrun     int64
	periodStart time.Time
	nextID      uint64
	open        map[uint64]int64

	nowFunc func() time.Time
}

// NewLedger creates a ledger with the given ceiling in USD. The period starts
// at the beginning of the current calendar month.
func NewLedger(ceilingUSD float64) (*Ledger, error) {
	if ceilingUSD <= 0 || math.IsNaN(ceilingUSD) || math.IsInf(ceilingUSD, 0) {
		return nil, ErrInvalidCeiling
	}
	l := &Ledger{
		ceiling: toMicro(ceilingUSD),
		open:    make(map[uint64]int64),
		nowFunc: time.Now,
	}
	l.periodStart = periodStart(l.nowFunc())
	return l, nil
}

func periodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) remainingLocked() int64 {
	r := l.ceiling - l.spent - l.reserved
	if r < 0 {
		return 0
	}
	return r
}

// Remaining returns the headroom left after spend and outstanding
// reservations.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return toUSD(l.remainingLocked())
}

// TryReserve holds amount against the budget. It returns false, and no
// reservation, when the amount does not fit.
func (l *Ledger) TryReserve(amountUSD float64) (*Reservation, bool) {
	if amountUSD < 0 || math.IsNaN(amountUSD) {
		return nil, false
	}
	amt := toMicro(amountUSD)

	l.mu.Lock()
	defer l.mu.Unlock()

	if amt > l.remainingLocked() {
		return nil, false
	}
	l.nextID++
	l.reserved += amt
	l.open[l.nextID] = amt
	return &Reservation{id: l.nextID, amount: amt}, true
}

// Commit settles a reservation with the measured cost. Any difference below
// the reservation returns to Remaining. A cost above the reservation is
// charged only as far as the ceiling allows and the rest is recorded as
// overrun. Commit returns the amount actually charged; settling an unknown or
// already-settled reservation charges nothing.
func (l *Ledger) Commit(res *Reservation, actualUSD float64) float64 {
	if res == nil {
		return 0
	}
	if actualUSD < 0 || math.IsNaN(actualUSD) {
		actualUSD = 0
	}
	actual := toMicro(actualUSD)

	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.open[res.id]
	if !ok {
		return 0
	}
	delete(l.open, res.id)
	l.reserved -= held

	charge := actual
	if headroom := l.ceiling - l.spent - l.reserved; charge > headroom {
		if headroom < 0 {
			headroom = 0
		}
		l.overrun += charge - headroom
		zap.L().Warn("budget: actual cost exceeded headroom",
			zap.Float64("actual_usd", actualUSD),
			zap.Float64("reserved_usd", toUSD(held)),
			zap.Float64("overrun_usd", toUSD(charge-headroom)),
		)
		charge = headroom
	}
	l.spent += charge
	return toUSD(charge)
}

// Release returns an unused reservation to the budget.
func (l *Ledger) Release(res *Reservation) {
	if res == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.open[res.id]; ok {
		delete(l.open, res.id)
		l.reserved -= held
	}
}

// Reset zeroes spend and starts a new period. Outstanding reservations stay
// held so in-flight calls still settle correctly.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent = 0
	l.overrun = 0
	l.periodStart = periodStart(l.nowFunc())
}

// RollOver resets the ledger when now falls in a later calendar month than
// the current period. It reports whether a reset happened.
func (l *Ledger) RollOver(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !periodStart(now).After(l.periodStart) {
		return false
	}
	l.spent = 0
	l.overrun = 0
	l.periodStart = periodStart(now)
	return true
}

// Snapshot returns the current state for persistence and reporting.
func (l *Ledger) Snapshot() model.BudgetState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.BudgetState{
		CeilingUSD:  toUSD(l.ceiling),
		SpentUSD:    toUSD(l.spent),
		ReservedUSD: toUSD(l.reserved),
		OverrunUSD:  toUSD(l.overrun),
		PeriodStart: l.periodStart,
	}
}

// Restore loads persisted spend into the ledger. The configured ceiling is
// kept; reservations are never restored because they belong to a previous
// process.
func (l *Ledger) Restore(state model.BudgetState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent = toMicro(state.SpentUSD)
	if l.spent > l.ceiling {
		l.spent = l.ceiling
	}
	l.overrun = toMicro(state.OverrunUSD)
	if !state.PeriodStart.IsZero() {
		l.periodStart = periodStart(state.PeriodStart)
	}
}
