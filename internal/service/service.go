package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"invoicepos/internal/clock"
	"invoicepos/internal/domain"
	"invoicepos/internal/draft"
	"invoicepos/internal/intake"
	"invoicepos/internal/logger"
	"invoicepos/internal/lookup"
	"invoicepos/internal/store"
	"invoicepos/internal/totals"
	"invoicepos/internal/xid"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrRecoveryPending = errors.New("a saved draft is waiting for a recovery decision")
	ErrEmptyInvoice    = errors.New("invoice has no line items")
)

// PaymentMismatchError rejects a submission whose payments do not add up to
// the net total within tolerance.
type PaymentMismatchError struct {
	NetTotal  decimal.Decimal
	TotalPaid decimal.Decimal
	Shortfall decimal.Decimal
	Excess    decimal.Decimal
}

func (e *PaymentMismatchError) Error() string {
	if e.Shortfall.IsPositive() {
		return fmt.Sprintf("payments of %s fall %s short of net total %s", e.TotalPaid, e.Shortfall, e.NetTotal)
	}
	return fmt.Sprintf("payments of %s exceed net total %s by %s", e.TotalPaid, e.NetTotal, e.Excess)
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Metrics is what the service reports besides draft persistence.
type Metrics interface {
	draft.Metrics
	InvoiceSubmitted()
	PaymentMismatch()
	LookupServed(cached bool, took time.Duration)
}

type noopMetrics struct {
	draft.NoopMetrics
}

func (noopMetrics) InvoiceSubmitted()                {}
func (noopMetrics) PaymentMismatch()                 {}
func (noopMetrics) LookupServed(bool, time.Duration) {}

type Config struct {
	DefaultStoreID  string
	FreshnessWindow time.Duration
	Tolerance       decimal.Decimal
	CurrencySymbol  string
	Now             func() time.Time
	Logger          *zap.Logger
	Metrics         Metrics
}

type Service struct {
	repo      store.Repository
	finder    *lookup.Engine
	snapshots draft.SnapshotStore
	cfg       Config
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*draft.Session
}

func New(repo store.Repository, finder *lookup.Engine, snapshots draft.SnapshotStore, cfg Config) *Service {
	if cfg.DefaultStoreID == "" {
		cfg.DefaultStoreID = "main-store"
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = draft.DefaultFreshnessWindow
	}
	if !cfg.Tolerance.IsPositive() {
		cfg.Tolerance = totals.DefaultTolerance
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = "$"
	}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if finder == nil {
		finder = lookup.NewEngine(nil, 0)
	}

	return &Service{
		repo:      repo,
		finder:    finder,
		snapshots: snapshots,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger).Named("service"),
		sessions:  make(map[string]*draft.Session),
	}
}

var terminalPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func DraftKey(storeID string, terminalID string) string {
	return "draft-invoice:" + storeID + ":" + terminalID
}

// session returns the draft session for a terminal. Only opened drafts are
// tracked; with create unset, an untracked terminal gets a throwaway empty
// session that still reads and clears the terminal's slot.
func (s *Service) session(storeID string, terminalID string, create bool) (*draft.Session, string, error) {
	storeID = defaultString(strings.TrimSpace(storeID), s.cfg.DefaultStoreID)
	terminalID = strings.TrimSpace(terminalID)
	if !terminalPattern.MatchString(storeID) || !terminalPattern.MatchString(terminalID) {
		return nil, "", fmt.Errorf("%w: store and terminal ids must be 1-64 letters, digits, '-' or '_'", ErrInvalidInput)
	}

	key := DraftKey(storeID, terminalID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		sess = draft.NewSession(s.snapshots, key, draft.SessionConfig{
			FreshnessWindow: s.cfg.FreshnessWindow,
			Tolerance:       s.cfg.Tolerance,
			Now:             s.cfg.Now,
			Logger:          s.log,
			Metrics:         s.cfg.Metrics,
		})
		if create {
			s.sessions[key] = sess
		}
	}
	return sess, storeID, nil
}

// track re-registers a session that was forgotten while it was being opened.
func (s *Service) track(sess *draft.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.Key()]; !ok {
		s.sessions[sess.Key()] = sess
	}
}

// forget drops a session that went back to empty so idle terminals do not
// pile up.
func (s *Service) forget(sess *draft.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.Key()] == sess && sess.State() == draft.StateEmpty {
		delete(s.sessions, sess.Key())
	}
}

// ComputeTotals previews totals for loosely shaped lines and payments without
// touching any draft.
func (s *Service) ComputeTotals(_ context.Context, req domain.TotalsRequest) (domain.TotalsResponse, error) {
	lines, err := intake.DecodeLineItems(req.Lines)
	if err != nil {
		return domain.TotalsResponse{}, err
	}

	resp := domain.TotalsResponse{
		Totals:        totals.ComputeInvoiceTotals(lines),
		LineSubtotals: make([]string, 0, len(lines)),
	}
	for i, line := range lines {
		resp.LineSubtotals = append(resp.LineSubtotals, totals.LineSubtotal(line).StringFixed(totals.Places))
		if violations := totals.ValidateLineItem(line); len(violations) > 0 {
			resp.LineViolations = append(resp.LineViolations, domain.LineViolations{Index: i, Violations: violations.Messages()})
		}
	}
	resp.Display = totals.Display(s.cfg.CurrencySymbol, resp.Totals)

	if req.Payments == nil {
		return resp, nil
	}
	payments, err := intake.DecodePayments(req.Payments)
	if err != nil {
		return domain.TotalsResponse{}, err
	}
	for i, p := range payments {
		if violations := totals.ValidatePayment(p); len(violations) > 0 {
			resp.PaymentViolations = append(resp.PaymentViolations, domain.LineViolations{Index: i, Violations: violations.Messages()})
		}
	}

	tolerance := s.cfg.Tolerance
	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}
	recon := totals.ReconcilePayments(resp.Totals.NetTotal, payments, tolerance)
	resp.Reconciliation = &recon
	resp.Display = totals.DisplayWithPayments(s.cfg.CurrencySymbol, resp.Totals, recon)
	return resp, nil
}

func (s *Service) SearchProducts(ctx context.Context, storeID string, query string, limit int) (domain.LookupResponse, error) {
	startedAt := time.Now()
	storeID = defaultString(strings.TrimSpace(storeID), s.cfg.DefaultStoreID)

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.LookupResponse{}, err
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	stock, err := s.repo.GetStockMap(ctx, storeID, ids)
	if err != nil {
		return domain.LookupResponse{}, err
	}

	resp := s.finder.Search(ctx, storeID, query, products, stock, limit)
	s.cfg.Metrics.LookupServed(resp.Cached, time.Since(startedAt))
	return resp, nil
}

// OpenDraft starts an empty draft for the terminal. A fresh snapshot in the
// slot must be accepted or declined through RecoverDraft first.
func (s *Service) OpenDraft(ctx context.Context, storeID string, terminalID string) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, true)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if sess.State() == draft.StateActive {
		return s.view(storeID, terminalID, sess, false), nil
	}
	if _, pending := sess.Pending(ctx); pending {
		s.forget(sess)
		return domain.DraftResponse{}, ErrRecoveryPending
	}

	sess.Begin(ctx, nil)
	s.track(sess)
	return s.view(storeID, terminalID, sess, false), nil
}

func (s *Service) PendingRecovery(ctx context.Context, storeID string, terminalID string) (domain.RecoveryOffer, error) {
	sess, _, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.RecoveryOffer{}, err
	}
	if sess.State() == draft.StateActive {
		return domain.RecoveryOffer{}, nil
	}

	offer, ok := sess.Pending(ctx)
	if !ok {
		return domain.RecoveryOffer{}, nil
	}
	return domain.RecoveryOffer{
		Available:    true,
		SavedAt:      offer.SavedAt.UTC().Format(time.RFC3339),
		AgeMinutes:   int(offer.Age / time.Minute),
		LineCount:    offer.LineCount,
		PaymentCount: offer.PaymentCount,
		Totals:       offer.Totals,
	}, nil
}

// RecoverDraft answers the recovery prompt. Declining, or finding nothing
// recoverable, leaves an empty active draft.
func (s *Service) RecoverDraft(ctx context.Context, storeID string, terminalID string, accept bool) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, true)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if sess.State() == draft.StateActive {
		return s.view(storeID, terminalID, sess, false), nil
	}

	recovered := sess.Begin(ctx, draft.ConfirmFunc(func(context.Context, draft.Offer) bool {
		return accept
	}))
	s.track(sess)
	return s.view(storeID, terminalID, sess, recovered), nil
}

func (s *Service) DiscardDraft(ctx context.Context, storeID string, terminalID string) error {
	sess, _, err := s.session(storeID, terminalID, false)
	if err != nil {
		return err
	}
	sess.Discard(ctx)
	s.forget(sess)
	return nil
}

func (s *Service) GetDraft(_ context.Context, storeID string, terminalID string) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

func (s *Service) AddLine(ctx context.Context, storeID string, terminalID string, req domain.AddLineRequest) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if !product.Active {
		return domain.DraftResponse{}, fmt.Errorf("product %d: %w", product.ID, store.ErrNotFound)
	}
	stock, err := s.repo.GetStockMap(ctx, storeID, []int64{product.ID})
	if err != nil {
		return domain.DraftResponse{}, err
	}

	line := domain.LineItem{
		ProductID:       product.ID,
		ProductCode:     product.Code,
		Name:            product.Name,
		UnitPrice:       product.UnitPrice,
		Quantity:        req.Quantity,
		DiscountPercent: req.DiscountPercent,
		DiscountValue:   req.DiscountValue,
		VATPercent:      product.VATPercent,
		AvailableStock:  stock[product.ID],
	}
	if err := sess.AddLine(ctx, line); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

// UpdateLine edits quantity or discounts and refreshes the stock snapshot.
func (s *Service) UpdateLine(ctx context.Context, storeID string, terminalID string, productID int64, req domain.UpdateLineRequest) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}

	edit := draft.LineEdit{
		Quantity:        req.Quantity,
		DiscountPercent: req.DiscountPercent,
		DiscountValue:   req.DiscountValue,
	}
	if req.Quantity != nil {
		stock, err := s.repo.GetStockMap(ctx, storeID, []int64{productID})
		if err != nil {
			return domain.DraftResponse{}, err
		}
		available := stock[productID]
		edit.AvailableStock = &available
	}

	if err := sess.UpdateLine(ctx, productID, edit); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

func (s *Service) RemoveLine(ctx context.Context, storeID string, terminalID string, productID int64) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if err := sess.RemoveLine(ctx, productID); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

func (s *Service) AddPayment(ctx context.Context, storeID string, terminalID string, req domain.AddPaymentRequest) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}

	if req.PaymentMethodID > 0 {
		method, err := s.repo.GetPaymentMethod(ctx, req.PaymentMethodID)
		if err != nil {
			return domain.DraftResponse{}, err
		}
		if !method.Active {
			return domain.DraftResponse{}, fmt.Errorf("%w: payment method %s is disabled", draft.ErrInvalidPayment, method.Name)
		}
	}

	if err := sess.AddPayment(ctx, domain.Payment{PaymentMethodID: req.PaymentMethodID, Amount: req.Amount}); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

func (s *Service) RemovePayment(ctx context.Context, storeID string, terminalID string, index int) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if err := sess.RemovePayment(ctx, index); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

func (s *Service) SetCustomer(ctx context.Context, storeID string, terminalID string, req domain.SetCustomerRequest) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if req.CustomerID != nil {
		if _, err := s.repo.GetCustomer(ctx, *req.CustomerID); err != nil {
			return domain.DraftResponse{}, err
		}
	}
	if err := sess.SetCustomer(ctx, req.CustomerID); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

const maxNotesLength = 500

func (s *Service) SetNotes(ctx context.Context, storeID string, terminalID string, req domain.SetNotesRequest) (domain.DraftResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	notes := strings.TrimSpace(req.Notes)
	if len([]rune(notes)) > maxNotesLength {
		return domain.DraftResponse{}, fmt.Errorf("%w: notes exceed %d characters", ErrInvalidInput, maxNotesLength)
	}
	if err := sess.SetNotes(ctx, notes); err != nil {
		return domain.DraftResponse{}, err
	}
	return s.view(storeID, terminalID, sess, false), nil
}

// Submit turns the active draft into a persisted invoice. The draft is frozen
// while the submission runs and stays untouched when validation, payment
// matching or persistence fails.
func (s *Service) Submit(ctx context.Context, storeID string, terminalID string) (domain.SubmitResponse, error) {
	sess, storeID, err := s.session(storeID, terminalID, false)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	d, err := sess.StartSubmit()
	if err != nil {
		return domain.SubmitResponse{}, err
	}

	resp, err := s.submit(ctx, storeID, terminalID, sess, d)
	if err != nil {
		sess.CancelSubmit()
		return domain.SubmitResponse{}, err
	}
	sess.Complete(ctx)
	s.forget(sess)
	return resp, nil
}

func (s *Service) submit(ctx context.Context, storeID string, terminalID string, sess *draft.Session, d domain.DraftInvoice) (domain.SubmitResponse, error) {
	if len(d.LineItems) == 0 {
		return domain.SubmitResponse{}, ErrEmptyInvoice
	}
	for _, line := range d.LineItems {
		if violations := totals.ValidateLineItem(line); len(violations) > 0 {
			return domain.SubmitResponse{}, &draft.ViolationError{Kind: draft.ErrInvalidLine, Violations: violations}
		}
	}
	for _, p := range d.Payments {
		if violations := totals.ValidatePayment(p); len(violations) > 0 {
			return domain.SubmitResponse{}, &draft.ViolationError{Kind: draft.ErrInvalidPayment, Violations: violations}
		}
	}
	if err := s.checkProductsAvailable(ctx, d.LineItems); err != nil {
		return domain.SubmitResponse{}, err
	}

	invoiceTotals := totals.ComputeInvoiceTotals(d.LineItems)
	recon := totals.ReconcilePayments(invoiceTotals.NetTotal, d.Payments, sess.Tolerance())
	if !recon.Valid {
		s.cfg.Metrics.PaymentMismatch()
		return domain.SubmitResponse{}, &PaymentMismatchError{
			NetTotal:  invoiceTotals.NetTotal,
			TotalPaid: recon.TotalPaid,
			Shortfall: recon.Shortfall,
			Excess:    recon.Change,
		}
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	invoice := domain.Invoice{
		ID:         xid.New("inv"),
		StoreID:    storeID,
		TerminalID: terminalID,
		CustomerID: d.CustomerID,
		Notes:      d.Notes,
		Lines:      d.LineItems,
		Payments:   d.Payments,
		Totals:     invoiceTotals,
		TotalPaid:  recon.TotalPaid,
		Change:     recon.Change,
		CreatedBy:  actor.Username,
		CreatedAt:  s.cfg.Now().UTC(),
	}

	saved, err := s.repo.CreateInvoice(ctx, invoice)
	if err != nil {
		return domain.SubmitResponse{}, err
	}

	s.cfg.Metrics.InvoiceSubmitted()
	s.log.Info("invoice submitted",
		zap.String("invoice_id", saved.ID),
		zap.String("store_id", storeID),
		zap.String("terminal_id", terminalID),
		zap.String("net_total", saved.Totals.NetTotal.StringFixed(totals.Places)),
		zap.String("actor", actor.Username),
	)

	return domain.SubmitResponse{
		Invoice: *saved,
		Display: totals.DisplayWithPayments(s.cfg.CurrencySymbol, saved.Totals, recon),
	}, nil
}

// checkProductsAvailable rejects lines whose product was removed or
// deactivated after it was added to the draft.
func (s *Service) checkProductsAvailable(ctx context.Context, lines []domain.LineItem) error {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if product, ok := products[line.ProductID]; !ok || !product.Active {
			return fmt.Errorf("%w: product %d (%s) is no longer available", store.ErrInvalidInvoice, line.ProductID, line.Name)
		}
	}
	return nil
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	methods, err := s.repo.ListPaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	return methods, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Invoice{}, ErrInvalidInput
	}
	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) view(storeID string, terminalID string, sess *draft.Session, recovered bool) domain.DraftResponse {
	d := sess.Draft()
	t := totals.ComputeInvoiceTotals(d.LineItems)
	recon := totals.ReconcilePayments(t.NetTotal, d.Payments, sess.Tolerance())
	if d.LineItems == nil {
		d.LineItems = []domain.LineItem{}
	}
	if d.Payments == nil {
		d.Payments = []domain.Payment{}
	}

	return domain.DraftResponse{
		StoreID:        storeID,
		TerminalID:     terminalID,
		State:          sess.State().String(),
		Recovered:      recovered,
		Draft:          d,
		Totals:         t,
		Reconciliation: recon,
		Display:        totals.DisplayWithPayments(s.cfg.CurrencySymbol, t, recon),
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
