package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/models"
	"go.uber.org/zap"
)

// ErrAlreadyPolling is returned when the device's token is already being polled
var ErrAlreadyPolling = errors.New("payment status is already being polled")

// StartPolling confirms the device's pending transaction in the background.
// Only one poller runs per device; starting again for the same token is a no-op.
func (m *Machine) StartPolling(ctx context.Context, deviceID string) error {
	unlock := m.lock(deviceID)
	p, err := m.store.Load(ctx, deviceID)
	if err != nil {
		unlock()
		return err
	}
	if p.Status != models.StatusPending || p.TransactionToken == "" {
		unlock()
		return models.ErrNoPendingTransaction
	}
	if p.IsStale(m.now(), m.cfg.StaleAfter) {
		m.expire(ctx, deviceID, p)
		unlock()
		return models.ErrTransactionExpired
	}
	if err := m.checkLedger(ctx, p.TransactionToken); err != nil {
		unlock()
		return err
	}
	unlock()

	m.mu.Lock()
	if h, ok := m.pollers[deviceID]; ok {
		if h.token == p.TransactionToken {
			m.mu.Unlock()
			return ErrAlreadyPolling
		}
		h.cancel()
	}
	pctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{id: uuid.NewString(), token: p.TransactionToken, cancel: cancel}
	m.pollers[deviceID] = h
	m.states[deviceID] = StateAwaitingExternalAuth
	m.wg.Add(1)
	m.mu.Unlock()

	logging.Info("polling payment status", logging.Device(deviceID), logging.Token(p.TransactionToken))
	go m.runPoll(pctx, h, deviceID)
	return nil
}

func (m *Machine) runPoll(ctx context.Context, h *pollHandle, deviceID string) {
	defer m.wg.Done()
	defer m.release(deviceID, h)

	result, err := m.poller.Poll(ctx, h.token)
	if ctx.Err() != nil {
		logging.Debug("polling cancelled", logging.Device(deviceID), logging.Token(h.token))
		return
	}

	// ctx stays live through resolution so a cancellation that lands now still suppresses side effects
	var (
		reported *models.GatewayReportedFailure
		timeout  *models.TimeoutExceeded
	)
	switch {
	case err == nil:
		_, err = m.HandlePollResult(ctx, deviceID, result)
	case errors.As(err, &reported):
		_, err = m.HandlePollResult(ctx, deviceID, reported.Result)
	case errors.As(err, &timeout):
		m.timedOut(ctx, deviceID, h.token, err)
		err = nil
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logging.Debug("polling cancelled before its result was applied", logging.Device(deviceID), logging.Token(h.token))
	case errors.Is(err, models.ErrAlreadyReconciled), errors.Is(err, models.ErrTransactionExpired):
		logging.Debug("poll result ignored", logging.Device(deviceID), logging.Token(h.token), zap.Error(err))
	default:
		logging.Error("failed to apply poll result", logging.Device(deviceID), logging.Token(h.token), zap.Error(err))
	}
}

// release forgets the handle unless a newer poller replaced it
func (m *Machine) release(deviceID string, h *pollHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.cancel()
	if current, ok := m.pollers[deviceID]; ok && current.id == h.id {
		delete(m.pollers, deviceID)
	}
}

// CancelPolling stops the device's poller. Nothing is emitted for a cancelled poll.
func (m *Machine) CancelPolling(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.pollers[deviceID]
	if !ok {
		return false
	}
	h.cancel()
	delete(m.pollers, deviceID)
	return true
}

// IsPolling reports whether a poller is running for the device
func (m *Machine) IsPolling(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pollers[deviceID]
	return ok
}

// Close cancels every poller and waits for them to exit
func (m *Machine) Close() {
	m.mu.Lock()
	for deviceID, h := range m.pollers {
		h.cancel()
		delete(m.pollers, deviceID)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// RecoverAction is what Recover did for a device
type RecoverAction string

const (
	RecoverNone    RecoverAction = "none"
	RecoverExpired RecoverAction = "expired"
	RecoverPurged  RecoverAction = "purged"
	RecoverResumed RecoverAction = "resumed"
	RecoverFailed  RecoverAction = "failed"
)

// Recover is the periodic housekeeping for one device: stale records are expired,
// corrupted ones surfaced, old FAILED records purged, and pending records this
// process has never seen (e.g. after a restart) get a poller.
func (m *Machine) Recover(ctx context.Context, deviceID string) (RecoverAction, error) {
	unlock := m.lock(deviceID)
	p, err := m.store.Load(ctx, deviceID)
	var corrupted *models.CorruptedLocalStateError
	switch {
	case errors.As(err, &corrupted):
		if _, clearErr := m.store.Clear(ctx, deviceID); clearErr != nil {
			unlock()
			return RecoverNone, clearErr
		}
		unlock()
		if _, err := m.failCorrupted(ctx, deviceID, "", "sweep"); err != nil {
			return RecoverNone, err
		}
		return RecoverFailed, nil
	case errors.Is(err, models.ErrNoPendingTransaction):
		unlock()
		return RecoverNone, nil
	case err != nil:
		unlock()
		return RecoverNone, err
	}

	stale := p.IsStale(m.now(), m.cfg.StaleAfter)
	switch {
	case p.Status == models.StatusPending && stale:
		m.expire(ctx, deviceID, p)
		unlock()
		return RecoverExpired, nil
	case p.Status != models.StatusPending && stale:
		_, err := m.store.Clear(ctx, deviceID)
		unlock()
		if err != nil {
			return RecoverNone, err
		}
		return RecoverPurged, nil
	case p.Status != models.StatusPending:
		unlock()
		return RecoverNone, nil
	}
	unlock()

	if m.known(deviceID) || m.IsPolling(deviceID) {
		return RecoverNone, nil
	}
	if err := m.StartPolling(ctx, deviceID); err != nil {
		if errors.Is(err, ErrAlreadyPolling) {
			return RecoverNone, nil
		}
		return RecoverNone, err
	}
	return RecoverResumed, nil
}

// Devices lists devices with a stored pending record
func (m *Machine) Devices(ctx context.Context) ([]string, error) {
	return m.store.Devices(ctx)
}
