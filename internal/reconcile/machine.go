package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lidapay/backend/internal/deeplink"
	"github.com/lidapay/backend/internal/gateway"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/metrics"
	"github.com/lidapay/backend/internal/models"
	"github.com/lidapay/backend/internal/store"
	"github.com/lidapay/backend/internal/utils"
	"go.uber.org/zap"
)

// State of a device's purchase
type State string

const (
	StateIdle                 State = "IDLE"
	StateAwaitingExternalAuth State = "AWAITING_EXTERNAL_AUTH"
	StateReconciling          State = "RECONCILING"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
)

// Pending policies for a purchase started while another one is unresolved
const (
	PolicyReject    = "reject"
	PolicyOverwrite = "overwrite"
)

// Sources of a terminal transition
const (
	SourceDeepLink = "deeplink"
	SourcePoll     = "poll"
)

// resolvedExpired is written to the resolved-token ledger for discarded records
const resolvedExpired = string(models.StatusExpired)

// Gateway is the payment API the machine drives
type Gateway interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Checkout, error)
	StatusQuerier
}

// HistoryRecorder keeps the audit trail of purchases. Failures are logged and never change an outcome.
type HistoryRecorder interface {
	Record(ctx context.Context, tx *models.Transaction) error
}

// Config tunes the machine
type Config struct {
	Poller        PollerConfig
	StaleAfter    time.Duration
	PendingPolicy string
	OrderImgURL   string
	Currency      string
}

// Purchase is what the checkout form submits
type Purchase struct {
	TransType       models.TransType `json:"transType" binding:"required"`
	RecipientNumber string           `json:"recipientNumber" binding:"required"`
	Amount          float64          `json:"amount" binding:"required,gt=0"`
	Currency        string           `json:"currency"`
	Description     string           `json:"description"`
	UserID          string           `json:"userId"`
	FirstName       string           `json:"firstName"`
	LastName        string           `json:"lastName"`
	Email           string           `json:"email"`
	PhoneNumber     string           `json:"phoneNumber"`
}

type pollHandle struct {
	id     string
	token  string
	cancel context.CancelFunc
}

// Machine reconciles each device's single in-flight purchase against the gateway.
// Deep links and polling race to resolve the same token; the first terminal
// transition wins and later ones are no-ops.
type Machine struct {
	store   *store.PendingStore
	gateway Gateway
	poller  *Poller
	history HistoryRecorder
	cfg     Config

	now    func() time.Time
	newRef func() string

	locks sync.Map // deviceID -> *sync.Mutex

	mu      sync.Mutex
	states  map[string]State
	pollers map[string]*pollHandle
	wg      sync.WaitGroup
}

// NewMachine creates a machine. history may be nil.
func NewMachine(s *store.PendingStore, gw Gateway, history HistoryRecorder, cfg Config) *Machine {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	if cfg.PendingPolicy == "" {
		cfg.PendingPolicy = PolicyReject
	}
	if cfg.Currency == "" {
		cfg.Currency = "GHS"
	}
	return &Machine{
		store:   s,
		gateway: gw,
		poller:  NewPoller(gw, cfg.Poller),
		history: history,
		cfg:     cfg,
		now:     time.Now,
		newRef:  utils.GeneratePayTransRef,
		states:  make(map[string]State),
		pollers: make(map[string]*pollHandle),
	}
}

func (m *Machine) lock(deviceID string) func() {
	v, _ := m.locks.LoadOrStore(deviceID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// State returns the device's current state. Devices this process has not seen are
// derived from the store.
func (m *Machine) State(ctx context.Context, deviceID string) State {
	m.mu.Lock()
	state, ok := m.states[deviceID]
	m.mu.Unlock()
	if ok {
		return state
	}

	p, err := m.store.Load(ctx, deviceID)
	if err != nil {
		return StateIdle
	}
	switch p.Status {
	case models.StatusFailed:
		return StateFailed
	case models.StatusPending:
		return StateAwaitingExternalAuth
	default:
		return StateIdle
	}
}

func (m *Machine) known(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[deviceID]
	return ok
}

func (m *Machine) transition(deviceID string, to State, fields ...zap.Field) {
	m.mu.Lock()
	from, ok := m.states[deviceID]
	if !ok {
		from = StateIdle
	}
	m.states[deviceID] = to
	m.mu.Unlock()

	fields = append(fields, logging.Device(deviceID), zap.String("from", string(from)), zap.String("to", string(to)))
	logging.Info("transaction state changed", fields...)
}

// Begin initiates a purchase at the gateway and persists it as the device's pending transaction
func (m *Machine) Begin(ctx context.Context, deviceID string, purchase Purchase) (*models.PendingTransaction, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	if !purchase.TransType.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", purchase.TransType)
	}
	if purchase.Amount <= 0 {
		return nil, errors.New("amount must be greater than zero")
	}

	unlock := m.lock(deviceID)
	defer unlock()

	existing, err := m.store.Load(ctx, deviceID)
	var corrupted *models.CorruptedLocalStateError
	switch {
	case err == nil:
		if err := m.admit(ctx, deviceID, existing); err != nil {
			return nil, err
		}
	case errors.As(err, &corrupted):
		logging.Warn("replacing corrupted pending transaction", logging.Device(deviceID), zap.Error(err))
	case !errors.Is(err, models.ErrNoPendingTransaction):
		return nil, err
	}

	ref := m.newRef()
	desc := purchase.Description
	if desc == "" {
		desc = fmt.Sprintf("%s %s", purchase.TransType, purchase.RecipientNumber)
	}
	currency := purchase.Currency
	if currency == "" {
		currency = m.cfg.Currency
	}

	checkout, err := m.gateway.Initiate(ctx, gateway.InitiateRequest{
		UserID:      purchase.UserID,
		FirstName:   purchase.FirstName,
		LastName:    purchase.LastName,
		Email:       purchase.Email,
		PhoneNumber: purchase.PhoneNumber,
		Amount:      purchase.Amount,
		OrderDesc:   desc,
		OrderImgURL: m.cfg.OrderImgURL,
	})
	if err != nil {
		logging.Error("failed to initiate payment", logging.Device(deviceID), zap.String("pay_trans_ref", ref), zap.Error(err))
		return nil, err
	}

	p := &models.PendingTransaction{
		DeviceID:         deviceID,
		TransType:        purchase.TransType,
		RecipientNumber:  purchase.RecipientNumber,
		Amount:           purchase.Amount,
		Currency:         currency,
		Description:      desc,
		PayTransRef:      ref,
		TransactionToken: checkout.Token,
		OrderID:          checkout.OrderID,
		CheckoutURL:      checkout.CheckoutURL,
		Status:           models.StatusPending,
		UserID:           purchase.UserID,
		FirstName:        purchase.FirstName,
		LastName:         purchase.LastName,
		Email:            purchase.Email,
		PhoneNumber:      purchase.PhoneNumber,
		Timestamp:        m.now().UTC().Format(time.RFC3339Nano),
	}
	if err := m.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist pending transaction: %w", err)
	}

	m.transition(deviceID, StateAwaitingExternalAuth, logging.Token(p.TransactionToken), logging.OrderID(p.OrderID))
	m.record(ctx, p, nil, "")
	return p, nil
}

// admit applies the pending policy to an existing record. Must hold the device lock.
func (m *Machine) admit(ctx context.Context, deviceID string, existing *models.PendingTransaction) error {
	if existing.Status != models.StatusPending {
		return nil
	}
	if existing.IsStale(m.now(), m.cfg.StaleAfter) {
		m.expire(ctx, deviceID, existing)
		return nil
	}
	if m.cfg.PendingPolicy != PolicyOverwrite {
		return models.ErrTransactionInFlight
	}

	logging.Warn("overwriting unresolved pending transaction",
		logging.Device(deviceID), logging.Token(existing.TransactionToken), logging.OrderID(existing.OrderID))
	m.CancelPolling(deviceID)
	return nil
}

// HandleDeepLink resolves a gateway redirect. deviceID may be empty when the redirect
// reached the public endpoint; the device is then found through the token.
//
// The returned outcome is what the device must show. The error is non-nil only when
// nothing happened: the token was already settled or discarded, or storage failed.
func (m *Machine) HandleDeepLink(ctx context.Context, deviceID, rawURL string) (*models.Outcome, error) {
	link, err := deeplink.Parse(rawURL)
	if err != nil {
		metrics.DeepLinks.WithLabelValues("malformed").Inc()
		logging.Warn("malformed payment deep link", logging.Device(deviceID), zap.String("url", utils.TruncateString(rawURL, 300)), zap.Error(err))
		if deviceID == "" && link != nil && link.Token != "" {
			deviceID, _ = m.store.DeviceForToken(ctx, link.Token)
		}
		return m.emit(ctx, deviceID, m.failure(models.MsgMalformedDeepLink, "", "", nil)), nil
	}
	metrics.DeepLinks.WithLabelValues("ok").Inc()

	log := logging.L().With(logging.Token(link.Token), logging.OrderID(link.OrderID),
		zap.String("token_source", link.TokenSource), zap.String("order_id_source", link.OrderIDSource))

	if err := m.checkLedger(ctx, link.Token); err != nil {
		log.Info("ignoring deep link for settled token", zap.Error(err))
		return nil, err
	}

	if deviceID == "" {
		deviceID, err = m.store.DeviceForToken(ctx, link.Token)
		if errors.Is(err, models.ErrNoPendingTransaction) {
			log.Warn("deep link for unknown token")
			return m.failure(models.MsgCorruptedState, link.Token, "", nil), nil
		}
		if err != nil {
			return nil, err
		}
	}
	log = log.With(logging.Device(deviceID))

	if m.foreign(ctx, deviceID, link.Token, link.OrderID) {
		log.Warn("deep link does not match pending transaction, ignoring")
		return m.mismatch(link.Token), nil
	}

	result, err := m.gateway.QueryStatus(ctx, link.Token)
	switch classify(result, err) {
	case verdictPending:
		if err != nil {
			log.Warn("status query after deep link failed, handing over to polling",
				zap.Bool("transport", gateway.IsTransportError(err)), zap.Error(err))
		} else {
			log.Info("payment still pending after deep link, handing over to polling")
		}
		return m.awaitByPolling(ctx, deviceID, link.Token)
	default:
		if result.OrderID == "" {
			result.OrderID = link.OrderID
		}
		return m.resolve(ctx, deviceID, link.Token, link.OrderID, result, SourceDeepLink)
	}
}

// awaitByPolling keeps the device waiting while the poller takes over. WAITING is
// emitted before the poller starts so a quick result is never overwritten by it.
func (m *Machine) awaitByPolling(ctx context.Context, deviceID, token string) (*models.Outcome, error) {
	unlock := m.lock(deviceID)
	if err := m.checkLedger(ctx, token); err != nil {
		unlock()
		if errors.Is(err, models.ErrAlreadyReconciled) || errors.Is(err, models.ErrTransactionExpired) {
			return m.store.LatestOutcome(ctx, deviceID)
		}
		return nil, err
	}
	out := &models.Outcome{
		ID:          uuid.NewString(),
		Kind:        models.OutcomeWaiting,
		Destination: models.DestinationWaiting,
		Message:     "Confirming your payment",
		Token:       token,
		CreatedAt:   m.now().UTC(),
	}
	m.emit(ctx, deviceID, out)
	unlock()

	err := m.StartPolling(ctx, deviceID)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyPolling):
		return out, nil
	case errors.Is(err, models.ErrTransactionExpired),
		errors.Is(err, models.ErrAlreadyReconciled),
		errors.Is(err, models.ErrNoPendingTransaction):
		// settled meanwhile; whatever settled it left the current outcome
		return m.store.LatestOutcome(ctx, deviceID)
	default:
		return nil, err
	}
}

// HandlePollResult resolves the device's pending transaction with a terminal status query result
func (m *Machine) HandlePollResult(ctx context.Context, deviceID string, result *models.TransactionStatusResult) (*models.Outcome, error) {
	if result == nil {
		return nil, errors.New("poll result is required")
	}
	if classify(result, nil) == verdictPending {
		return nil, fmt.Errorf("poll result %s is not terminal", result.Status)
	}
	token := result.Token
	if token == "" {
		p, err := m.store.Load(ctx, deviceID)
		if err == nil {
			token = p.TransactionToken
		}
	}
	return m.resolve(ctx, deviceID, token, result.OrderID, result, SourcePoll)
}

// foreign reports whether a notification names a different transaction than the
// device's stored record. Devices without a readable record are left to resolve.
func (m *Machine) foreign(ctx context.Context, deviceID, token, orderID string) bool {
	unlock := m.lock(deviceID)
	defer unlock()
	p, err := m.store.Load(ctx, deviceID)
	if err != nil {
		return false
	}
	return !p.Matches(token, orderID)
}

// mismatch is returned to the caller only; the device's record, poller and ledger entry are left alone
func (m *Machine) mismatch(token string) *models.Outcome {
	return m.failure(models.MsgMismatchedPayment, token, "", nil)
}

// checkLedger returns ErrAlreadyReconciled or ErrTransactionExpired for tokens that must not be resolved again
func (m *Machine) checkLedger(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	status, ok, err := m.store.ResolvedStatus(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if status == resolvedExpired {
		return models.ErrTransactionExpired
	}
	return models.ErrAlreadyReconciled
}

// resolve performs the RECONCILING step for a terminal result
func (m *Machine) resolve(ctx context.Context, deviceID, token, orderID string, result *models.TransactionStatusResult, source string) (*models.Outcome, error) {
	unlock := m.lock(deviceID)
	defer unlock()

	// a cancelled poller must not apply its result; once past this point the transition completes
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	if err := m.checkLedger(ctx, token); err != nil {
		return nil, err
	}

	log := logging.L().With(logging.Device(deviceID), logging.Token(token), logging.OrderID(orderID), zap.String("source", source))

	p, err := m.store.Load(ctx, deviceID)
	var corrupted *models.CorruptedLocalStateError
	switch {
	case errors.As(err, &corrupted):
		log.Error("pending transaction is corrupted", zap.String("raw", utils.TruncateString(corrupted.Raw, 200)), zap.Error(err))
		if _, clearErr := m.store.Clear(ctx, deviceID); clearErr != nil {
			log.Error("failed to clear corrupted pending transaction", zap.Error(clearErr))
		}
		return m.failCorrupted(ctx, deviceID, token, source)
	case errors.Is(err, models.ErrNoPendingTransaction):
		log.Error("no pending transaction to reconcile")
		return m.failCorrupted(ctx, deviceID, token, source)
	case err != nil:
		return nil, err
	}

	if token == "" {
		token = p.TransactionToken
	}
	if !p.Matches(token, orderID) {
		log.Warn("notification does not match pending transaction, ignoring",
			zap.String("pending_token", p.TransactionToken), zap.String("pending_order_id", p.OrderID))
		return m.mismatch(token), nil
	}
	if p.Status == models.StatusPending && p.IsStale(m.now(), m.cfg.StaleAfter) {
		return m.expire(ctx, deviceID, p), nil
	}

	m.transition(deviceID, StateReconciling, logging.Token(token))

	v := classify(result, nil)
	status := models.StatusCompleted
	if v != verdictCompleted {
		status = models.StatusFailed
	}

	first, err := m.store.MarkResolved(ctx, token, string(status))
	if err != nil {
		return nil, err
	}
	if !first {
		log.Info("token resolved concurrently, ignoring")
		return nil, models.ErrAlreadyReconciled
	}
	if source != SourcePoll {
		m.CancelPolling(deviceID)
	}
	metrics.Reconciliations.WithLabelValues(string(status), source).Inc()

	if status == models.StatusCompleted {
		return m.complete(ctx, p, result, source), nil
	}
	return m.fail(ctx, p, result, source), nil
}

// complete clears the pending record and sends the device to the receipt
func (m *Machine) complete(ctx context.Context, p *models.PendingTransaction, result *models.TransactionStatusResult, source string) *models.Outcome {
	enriched := *result
	enriched.Status = models.StatusCompleted
	enriched.Token = p.TransactionToken
	if enriched.OrderID == "" {
		enriched.OrderID = p.OrderID
	}
	if enriched.Amount == 0 {
		enriched.Amount = p.Amount
	}
	if enriched.Currency == "" {
		enriched.Currency = p.Currency
	}

	if _, err := m.store.Clear(ctx, p.DeviceID); err != nil {
		logging.Error("failed to clear completed transaction", logging.Device(p.DeviceID), zap.Error(err))
	}
	p.Status = models.StatusCompleted
	m.transition(p.DeviceID, StateCompleted, logging.Token(p.TransactionToken), zap.String("source", source),
		zap.String("transaction_id", enriched.TransactionID))
	m.record(ctx, p, &enriched, source)

	out := &models.Outcome{
		ID:          uuid.NewString(),
		Kind:        models.OutcomeReceipt,
		Destination: models.DestinationReceipt,
		Message:     "Payment successful",
		Token:       p.TransactionToken,
		PayTransRef: p.PayTransRef,
		Result:      &enriched,
		CreatedAt:   m.now().UTC(),
	}
	return m.emit(ctx, p.DeviceID, out)
}

// fail marks the record FAILED without deleting it and sends the device home
func (m *Machine) fail(ctx context.Context, p *models.PendingTransaction, result *models.TransactionStatusResult, source string) *models.Outcome {
	failure := &models.GatewayReportedFailure{Result: result}
	p.Status = models.StatusFailed
	p.Diagnostic = failure.Error()
	if err := m.store.Save(ctx, p); err != nil {
		logging.Error("failed to mark pending transaction failed", logging.Device(p.DeviceID), zap.Error(err))
	}
	m.transition(p.DeviceID, StateFailed, logging.Token(p.TransactionToken), zap.String("source", source),
		zap.String("diagnostic", p.Diagnostic))
	m.record(ctx, p, result, source)

	out := m.failure(models.UserMessage(failure), p.TransactionToken, p.PayTransRef, result)
	return m.emit(ctx, p.DeviceID, out)
}

// failCorrupted handles absent or undecodable local state. The token is not written to
// the ledger: it may still belong to a live record elsewhere.
func (m *Machine) failCorrupted(ctx context.Context, deviceID, token, source string) (*models.Outcome, error) {
	m.CancelPolling(deviceID)
	metrics.Reconciliations.WithLabelValues(string(models.StatusFailed), source).Inc()
	m.transition(deviceID, StateFailed, logging.Token(token), zap.String("source", source), zap.String("diagnostic", models.MsgCorruptedState))
	return m.emit(ctx, deviceID, m.failure(models.MsgCorruptedState, token, "", nil)), nil
}

// timedOut surfaces an exhausted polling budget; the record stays pending so a late deep link can still settle it.
// Nothing is emitted once the poll was cancelled or the token settled another way.
func (m *Machine) timedOut(ctx context.Context, deviceID, token string, err error) {
	unlock := m.lock(deviceID)
	defer unlock()

	if ctx.Err() != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if m.checkLedger(ctx, token) != nil {
		return
	}
	p, loadErr := m.store.Load(ctx, deviceID)
	if loadErr != nil || p.Status != models.StatusPending || p.TransactionToken != token {
		return
	}

	m.transition(deviceID, StateAwaitingExternalAuth, logging.Token(token), zap.Error(err))
	m.emit(ctx, deviceID, m.failure(models.UserMessage(err), token, "", nil))
}

// expire discards a stale record; its token can never be reconciled afterwards
func (m *Machine) expire(ctx context.Context, deviceID string, p *models.PendingTransaction) *models.Outcome {
	if _, err := m.store.Clear(ctx, deviceID); err != nil {
		logging.Error("failed to clear expired transaction", logging.Device(deviceID), zap.Error(err))
	}
	if p.TransactionToken != "" {
		if _, err := m.store.MarkResolved(ctx, p.TransactionToken, resolvedExpired); err != nil {
			logging.Error("failed to mark token expired", logging.Device(deviceID), zap.Error(err))
		}
	}
	m.CancelPolling(deviceID)
	metrics.Expired.Inc()

	m.transition(deviceID, StateIdle, logging.Token(p.TransactionToken), zap.String("timestamp", p.Timestamp), zap.String("reason", "expired"))
	expired := *p
	expired.Diagnostic = models.MsgExpired
	m.record(ctx, &expired, nil, resolvedExpired)

	out := &models.Outcome{
		ID:          uuid.NewString(),
		Kind:        models.OutcomeExpired,
		Destination: models.DestinationHome,
		Message:     models.MsgExpired,
		Token:       p.TransactionToken,
		PayTransRef: p.PayTransRef,
		CreatedAt:   m.now().UTC(),
	}
	return m.emit(ctx, deviceID, out)
}

func (m *Machine) failure(message, token, ref string, result *models.TransactionStatusResult) *models.Outcome {
	return &models.Outcome{
		ID:          uuid.NewString(),
		Kind:        models.OutcomeError,
		Destination: models.DestinationHome,
		Message:     message,
		Token:       token,
		PayTransRef: ref,
		Result:      result,
		CreatedAt:   m.now().UTC(),
	}
}

// emit delivers an outcome to the device's mailbox
func (m *Machine) emit(ctx context.Context, deviceID string, out *models.Outcome) *models.Outcome {
	if deviceID == "" {
		return out
	}
	if err := m.store.PushOutcome(ctx, deviceID, out); err != nil {
		logging.Error("failed to deliver outcome", logging.Device(deviceID), zap.String("kind", string(out.Kind)), zap.Error(err))
	}
	return out
}

// record writes the purchase to the history, best effort
func (m *Machine) record(ctx context.Context, p *models.PendingTransaction, result *models.TransactionStatusResult, source string) {
	if m.history == nil {
		return
	}
	tx := &models.Transaction{
		DeviceID:        p.DeviceID,
		UserID:          p.UserID,
		PayTransRef:     p.PayTransRef,
		TransType:       p.TransType,
		RecipientNumber: p.RecipientNumber,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Description:     p.Description,
		Token:           p.TransactionToken,
		OrderID:         p.OrderID,
		Status:          p.Status,
		Source:          source,
		Diagnostic:      p.Diagnostic,
	}
	if created, ok := p.CreatedAt(); ok {
		tx.InitiatedAt = &created
	}
	if source == resolvedExpired {
		tx.Status = models.StatusExpired
		tx.Source = ""
	}
	if result != nil {
		tx.GatewayTxID = result.TransactionID
		if raw, err := json.Marshal(result); err == nil {
			tx.RawResult = raw
		}
	}
	if p.Status.Terminal() || tx.Status == models.StatusExpired {
		now := m.now().UTC()
		tx.ReconciledAt = &now
	}
	if err := m.history.Record(ctx, tx); err != nil {
		logging.Warn("failed to record transaction history", logging.Device(p.DeviceID),
			zap.String("pay_trans_ref", p.PayTransRef), zap.Error(err))
	}
}

// Resume applies the staleness rule when the app comes back to the foreground.
// A fresh pending record resumes polling and yields a WAITING outcome; a stale one
// is discarded with an EXPIRED outcome. Devices with nothing pending get ErrNoPendingTransaction.
func (m *Machine) Resume(ctx context.Context, deviceID string) (*models.Outcome, error) {
	unlock := m.lock(deviceID)
	p, err := m.store.Load(ctx, deviceID)
	var corrupted *models.CorruptedLocalStateError
	switch {
	case errors.As(err, &corrupted):
		logging.Error("pending transaction is corrupted", logging.Device(deviceID), zap.Error(err))
		if _, clearErr := m.store.Clear(ctx, deviceID); clearErr != nil {
			logging.Error("failed to clear corrupted pending transaction", logging.Device(deviceID), zap.Error(clearErr))
		}
		unlock()
		return m.failCorrupted(ctx, deviceID, "", "resume")
	case err != nil:
		unlock()
		return nil, err
	}

	if p.Status != models.StatusPending {
		unlock()
		if p.Status == models.StatusFailed {
			m.setState(deviceID, StateFailed)
		}
		return nil, models.ErrNoPendingTransaction
	}
	if p.IsStale(m.now(), m.cfg.StaleAfter) {
		out := m.expire(ctx, deviceID, p)
		unlock()
		return out, nil
	}
	unlock()

	m.setState(deviceID, StateAwaitingExternalAuth)
	return m.awaitByPolling(ctx, deviceID, p.TransactionToken)
}

func (m *Machine) setState(deviceID string, state State) {
	m.mu.Lock()
	m.states[deviceID] = state
	m.mu.Unlock()
}

// Pending returns the device's in-flight transaction. A stale record is discarded
// on load and reported as ErrTransactionExpired.
func (m *Machine) Pending(ctx context.Context, deviceID string) (*models.PendingTransaction, error) {
	unlock := m.lock(deviceID)
	defer unlock()

	p, err := m.store.Load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusPending && p.IsStale(m.now(), m.cfg.StaleAfter) {
		m.expire(ctx, deviceID, p)
		return nil, models.ErrTransactionExpired
	}
	return p, nil
}

// LatestOutcome returns the most recent outcome delivered to the device, or nil
func (m *Machine) LatestOutcome(ctx context.Context, deviceID string) (*models.Outcome, error) {
	return m.store.LatestOutcome(ctx, deviceID)
}

// Preferences returns the device's stored settings
func (m *Machine) Preferences(ctx context.Context, deviceID string) (*models.Preferences, error) {
	return m.store.Preferences(ctx, deviceID)
}

// SavePreferences stores the device's settings
func (m *Machine) SavePreferences(ctx context.Context, deviceID string, prefs models.Preferences) error {
	return m.store.SavePreferences(ctx, deviceID, prefs)
}
