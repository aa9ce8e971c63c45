// Package draft keeps one in-progress invoice per terminal, backs it up to a
// key-value slot after every change and offers it back after a reload.
//
// Recovery is never automatic: a snapshot older than the freshness window is
// dropped, and a fresh one is restored only after the Confirmer accepts it.
package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"invoicepos/internal/clock"
	"invoicepos/internal/domain"
	"invoicepos/internal/logger"
	"invoicepos/internal/totals"
)

const DefaultFreshnessWindow = 2 * time.Hour

type State int

const (
	StateEmpty State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "empty"
}

var (
	ErrNoActiveDraft     = errors.New("no active draft invoice")
	ErrInvalidLine       = errors.New("invalid line item")
	ErrDuplicateLine     = errors.New("product is already on the invoice")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLineNotFound      = errors.New("line item not found")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrSubmitInProgress  = errors.New("draft is being submitted")
)

// ViolationError carries every violation of a rejected line or payment.
type ViolationError struct {
	Kind       error
	Violations totals.Violations
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Violations.Err())
}

func (e *ViolationError) Unwrap() error {
	return e.Kind
}

// Offer describes a recoverable snapshot to the user before it is restored.
type Offer struct {
	SavedAt      time.Time
	Age          time.Duration
	LineCount    int
	PaymentCount int
	Totals       domain.TotalsResult
}

type Confirmer interface {
	ConfirmRecovery(ctx context.Context, offer Offer) bool
}

type ConfirmFunc func(ctx context.Context, offer Offer) bool

func (f ConfirmFunc) ConfirmRecovery(ctx context.Context, offer Offer) bool {
	return f(ctx, offer)
}

type Recovered struct {
	Draft  domain.DraftInvoice
	Totals domain.TotalsResult
}

// SaveResult reports the outcome of a best-effort slot write or delete.
type SaveResult struct {
	Saved bool
	Err   error
}

type LineEdit struct {
	Quantity        *int
	DiscountPercent *decimal.Decimal
	DiscountValue   *decimal.Decimal
	AvailableStock  *int
}

type SessionConfig struct {
	FreshnessWindow time.Duration
	Tolerance       decimal.Decimal
	Now             func() time.Time
	Logger          *zap.Logger
	Metrics         Metrics
}

type Session struct {
	mu    sync.Mutex
	store SnapshotStore
	key   string
	cfg   SessionConfig
	log   *zap.Logger
	state State
	draft domain.DraftInvoice

	submitting bool
}

func NewSession(store SnapshotStore, key string, cfg SessionConfig) *Session {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.Tolerance.IsNegative() || cfg.Tolerance.IsZero() {
		cfg.Tolerance = totals.DefaultTolerance
	}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}

	return &Session{
		store: store,
		key:   key,
		cfg:   cfg,
		log:   logger.OrNop(cfg.Logger).With(zap.String("draft_key", key)),
	}
}

func (s *Session) Key() string {
	return s.key
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin opens the invoicing screen: a confirmed snapshot is restored,
// otherwise an empty draft becomes active. An already active draft is kept.
func (s *Session) Begin(ctx context.Context, confirm Confirmer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateActive {
		return false
	}
	if _, ok := s.tryRecoverLocked(ctx, confirm); ok {
		return true
	}
	s.draft = domain.DraftInvoice{}
	s.state = StateActive
	return false
}

// Pending inspects the slot without restoring it. Stale and corrupt
// snapshots are discarded on the way.
func (s *Session) Pending(ctx context.Context) (Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, outcome := s.loadLocked(ctx)
	if outcome != outcomeFresh {
		return Offer{}, false
	}
	return s.offerFor(d), true
}

func (s *Session) TryRecover(ctx context.Context, confirm Confirmer) (Recovered, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryRecoverLocked(ctx, confirm)
}

func (s *Session) tryRecoverLocked(ctx context.Context, confirm Confirmer) (Recovered, bool) {
	d, outcome := s.loadLocked(ctx)
	if outcome != outcomeFresh {
		s.cfg.Metrics.RecoveryCompleted(outcome)
		return Recovered{}, false
	}

	if confirm == nil || !confirm.ConfirmRecovery(ctx, s.offerFor(d)) {
		s.deleteLocked(ctx, "decline")
		s.cfg.Metrics.RecoveryCompleted(OutcomeDeclined)
		return Recovered{}, false
	}

	s.draft = d
	s.state = StateActive
	s.cfg.Metrics.RecoveryCompleted(OutcomeRestored)
	s.log.Info("draft recovered",
		zap.Int("lines", len(d.LineItems)),
		zap.Int("payments", len(d.Payments)),
		zap.Time("saved_at", d.SavedAt),
	)

	return Recovered{
		Draft:  d.Clone(),
		Totals: totals.ComputeInvoiceTotals(d.LineItems),
	}, true
}

func (s *Session) loadLocked(ctx context.Context) (domain.DraftInvoice, RecoveryOutcome) {
	payload, found, err := s.store.Get(ctx, s.key)
	if err != nil {
		s.log.Warn("draft snapshot unreadable, skipping recovery", zap.Error(err))
		return domain.DraftInvoice{}, OutcomeUnavailable
	}
	if !found {
		return domain.DraftInvoice{}, OutcomeAbsent
	}

	d, err := decodeSnapshot(payload)
	if err != nil {
		s.log.Warn("discarding corrupt draft snapshot", zap.Error(err))
		s.deleteLocked(ctx, "corrupt")
		return domain.DraftInvoice{}, OutcomeCorrupt
	}

	age := s.cfg.Now().Sub(d.SavedAt)
	if age > s.cfg.FreshnessWindow {
		s.log.Info("discarding stale draft snapshot", zap.Duration("age", age))
		s.deleteLocked(ctx, "stale")
		return domain.DraftInvoice{}, OutcomeStale
	}

	return d, outcomeFresh
}

func (s *Session) offerFor(d domain.DraftInvoice) Offer {
	age := s.cfg.Now().Sub(d.SavedAt)
	if age < 0 {
		age = 0
	}
	return Offer{
		SavedAt:      d.SavedAt,
		Age:          age,
		LineCount:    len(d.LineItems),
		PaymentCount: len(d.Payments),
		Totals:       totals.ComputeInvoiceTotals(d.LineItems),
	}
}

// Save writes the active draft to the slot. Failures are logged and
// reported in the result; they never interrupt the invoicing flow.
func (s *Session) Save(ctx context.Context) SaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return SaveResult{Err: ErrNoActiveDraft}
	}
	return s.saveLocked(ctx)
}

func (s *Session) saveLocked(ctx context.Context) SaveResult {
	now := s.cfg.Now().UTC()
	payload, err := encodeSnapshot(s.draft, now)
	if err == nil {
		err = s.store.Put(ctx, s.key, payload)
	}
	s.cfg.Metrics.SnapshotPersisted("save", err)
	if err != nil {
		s.log.Warn("draft snapshot not saved", zap.Error(err))
		return SaveResult{Err: err}
	}
	s.draft.SavedAt = now
	return SaveResult{Saved: true}
}

// Discard removes the snapshot and drops the in-memory draft. Safe to call
// repeatedly.
func (s *Session) Discard(ctx context.Context) SaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(ctx, "discard")
}

// Complete clears the draft after the invoice was submitted.
func (s *Session) Complete(ctx context.Context) SaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(ctx, "complete")
}

// StartSubmit freezes the active draft and hands out a copy of it. Until
// Complete or CancelSubmit, mutations and further submissions fail with
// ErrSubmitInProgress.
func (s *Session) StartSubmit() (domain.DraftInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return domain.DraftInvoice{}, ErrNoActiveDraft
	}
	if s.submitting {
		return domain.DraftInvoice{}, ErrSubmitInProgress
	}
	s.submitting = true
	return s.draft.Clone(), nil
}

// CancelSubmit unfreezes the draft after a rejected or failed submission.
func (s *Session) CancelSubmit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
}

func (s *Session) resetLocked(ctx context.Context, reason string) SaveResult {
	s.draft = domain.DraftInvoice{}
	s.state = StateEmpty
	s.submitting = false
	return s.deleteLocked(ctx, reason)
}

func (s *Session) deleteLocked(ctx context.Context, reason string) SaveResult {
	err := s.store.Delete(ctx, s.key)
	s.cfg.Metrics.SnapshotPersisted("delete", err)
	if err != nil {
		s.log.Warn("draft snapshot not deleted", zap.String("reason", reason), zap.Error(err))
		return SaveResult{Err: err}
	}
	return SaveResult{Saved: true}
}

func (s *Session) Draft() domain.DraftInvoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

func (s *Session) Totals() domain.TotalsResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totals.ComputeInvoiceTotals(s.draft.LineItems)
}

func (s *Session) Reconcile() domain.Reconciliation {
	s.mu.Lock()
	defer s.mu.Unlock()
	net := totals.ComputeInvoiceTotals(s.draft.LineItems).NetTotal
	return totals.ReconcilePayments(net, s.draft.Payments, s.cfg.Tolerance)
}

func (s *Session) Tolerance() decimal.Decimal {
	return s.cfg.Tolerance
}

// mutate applies fn to a copy of the draft; the copy replaces the draft and
// is saved only when fn succeeds.
func (s *Session) mutate(ctx context.Context, fn func(d *domain.DraftInvoice) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrNoActiveDraft
	}
	if s.submitting {
		return ErrSubmitInProgress
	}
	next := s.draft.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.draft = next
	s.saveLocked(ctx)
	return nil
}

func checkLine(line domain.LineItem) error {
	if violations := totals.ValidateLineItem(line); len(violations) > 0 {
		return &ViolationError{Kind: ErrInvalidLine, Violations: violations}
	}
	if line.Quantity > line.AvailableStock {
		return fmt.Errorf("%w: %s requested %d, available %d", ErrInsufficientStock, line.Name, line.Quantity, line.AvailableStock)
	}
	return nil
}

func (s *Session) AddLine(ctx context.Context, item domain.LineItem) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		if _, exists := d.FindLine(item.ProductID); exists {
			return fmt.Errorf("%w: product %d", ErrDuplicateLine, item.ProductID)
		}
		if err := checkLine(item); err != nil {
			return err
		}
		d.LineItems = append(d.LineItems, item)
		return nil
	})
}

func (s *Session) UpdateLine(ctx context.Context, productID int64, edit LineEdit) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		idx, ok := d.FindLine(productID)
		if !ok {
			return fmt.Errorf("%w: product %d", ErrLineNotFound, productID)
		}

		line := d.LineItems[idx]
		if edit.Quantity != nil {
			line.Quantity = *edit.Quantity
		}
		if edit.DiscountPercent != nil {
			line.DiscountPercent = *edit.DiscountPercent
		}
		if edit.DiscountValue != nil {
			line.DiscountValue = *edit.DiscountValue
		}
		if edit.AvailableStock != nil {
			line.AvailableStock = *edit.AvailableStock
		}
		if err := checkLine(line); err != nil {
			return err
		}
		d.LineItems[idx] = line
		return nil
	})
}

func (s *Session) RemoveLine(ctx context.Context, productID int64) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		idx, ok := d.FindLine(productID)
		if !ok {
			return fmt.Errorf("%w: product %d", ErrLineNotFound, productID)
		}
		d.LineItems = append(d.LineItems[:idx], d.LineItems[idx+1:]...)
		return nil
	})
}

func (s *Session) AddPayment(ctx context.Context, p domain.Payment) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		if violations := totals.ValidatePayment(p); len(violations) > 0 {
			return &ViolationError{Kind: ErrInvalidPayment, Violations: violations}
		}
		d.Payments = append(d.Payments, p)
		return nil
	})
}

func (s *Session) RemovePayment(ctx context.Context, index int) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		if index < 0 || index >= len(d.Payments) {
			return fmt.Errorf("%w: index %d", ErrPaymentNotFound, index)
		}
		d.Payments = append(d.Payments[:index], d.Payments[index+1:]...)
		return nil
	})
}

func (s *Session) SetCustomer(ctx context.Context, customerID *int64) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		if customerID == nil {
			d.CustomerID = nil
			return nil
		}
		id := *customerID
		d.CustomerID = &id
		return nil
	})
}

func (s *Session) SetNotes(ctx context.Context, notes string) error {
	return s.mutate(ctx, func(d *domain.DraftInvoice) error {
		d.Notes = notes
		return nil
	})
}
