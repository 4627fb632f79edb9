package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lidapay/backend/internal/models"
)

// Key layout
const (
	pendingPrefix  = "pendingTransaction:"
	tokenPrefix    = "token:"
	resolvedPrefix = "resolved:"
	outcomePrefix  = "outcome:"
	countryPrefix  = "userCountry:"
	themePrefix    = "themeMode:"
)

// PendingStore persists the per-device in-flight transaction and its companions
type PendingStore struct {
	kv          KV
	indexTTL    time.Duration
	resolvedTTL time.Duration
	outcomeTTL  time.Duration
}

// Options tunes key lifetimes
type Options struct {
	// IndexTTL bounds the token -> device index; it must outlive the staleness window
	IndexTTL time.Duration
	// ResolvedTTL bounds how long duplicate notifications are recognised
	ResolvedTTL time.Duration
	// OutcomeTTL bounds how long the latest outcome stays readable
	OutcomeTTL time.Duration
}

// NewPendingStore creates a store on top of kv
func NewPendingStore(kv KV, opts Options) *PendingStore {
	if opts.IndexTTL == 0 {
		opts.IndexTTL = 48 * time.Hour
	}
	if opts.ResolvedTTL == 0 {
		opts.ResolvedTTL = 7 * 24 * time.Hour
	}
	if opts.OutcomeTTL == 0 {
		opts.OutcomeTTL = 72 * time.Hour
	}
	return &PendingStore{
		kv:          kv,
		indexTTL:    opts.IndexTTL,
		resolvedTTL: opts.ResolvedTTL,
		outcomeTTL:  opts.OutcomeTTL,
	}
}

// Save writes the device's pending record and indexes it by token.
// It overwrites whatever record the device had; callers enforce the in-flight policy.
func (s *PendingStore) Save(ctx context.Context, p *models.PendingTransaction) error {
	if p.DeviceID == "" {
		return errors.New("pending transaction has no device id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending transaction: %w", err)
	}
	if err := s.kv.Set(ctx, pendingPrefix+p.DeviceID, string(data), 0); err != nil {
		return err
	}
	if p.TransactionToken != "" {
		if err := s.kv.Set(ctx, tokenPrefix+p.TransactionToken, p.DeviceID, s.indexTTL); err != nil {
			return err
		}
	}
	return nil
}

// LoadRaw returns the stored JSON blob
func (s *PendingStore) LoadRaw(ctx context.Context, deviceID string) (string, error) {
	raw, err := s.kv.Get(ctx, pendingPrefix+deviceID)
	if errors.Is(err, ErrNotFound) {
		return "", models.ErrNoPendingTransaction
	}
	return raw, err
}

// Load decodes the stored record. Undecodable data yields a CorruptedLocalStateError.
func (s *PendingStore) Load(ctx context.Context, deviceID string) (*models.PendingTransaction, error) {
	raw, err := s.LoadRaw(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	var p models.PendingTransaction
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &models.CorruptedLocalStateError{Raw: raw, Err: err}
	}
	if p.DeviceID == "" {
		p.DeviceID = deviceID
	}
	return &p, nil
}

// Clear removes the device's pending record and reports whether one existed
func (s *PendingStore) Clear(ctx context.Context, deviceID string) (bool, error) {
	n, err := s.kv.Del(ctx, pendingPrefix+deviceID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeviceForToken resolves the device a gateway token was issued to
func (s *PendingStore) DeviceForToken(ctx context.Context, token string) (string, error) {
	deviceID, err := s.kv.Get(ctx, tokenPrefix+token)
	if errors.Is(err, ErrNotFound) {
		return "", models.ErrNoPendingTransaction
	}
	return deviceID, err
}

// MarkResolved records the terminal status of token. It returns false when the
// token had already been resolved, which makes the caller's transition a no-op.
func (s *PendingStore) MarkResolved(ctx context.Context, token, status string) (bool, error) {
	return s.kv.SetNX(ctx, resolvedPrefix+token, status, s.resolvedTTL)
}

// ResolvedStatus returns the recorded terminal status of token, if any
func (s *PendingStore) ResolvedStatus(ctx context.Context, token string) (string, bool, error) {
	status, err := s.kv.Get(ctx, resolvedPrefix+token)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

// PushOutcome replaces the device's latest outcome
func (s *PendingStore) PushOutcome(ctx context.Context, deviceID string, o *models.Outcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return s.kv.Set(ctx, outcomePrefix+deviceID, string(data), s.outcomeTTL)
}

// LatestOutcome returns the most recent outcome for the device, or nil
func (s *PendingStore) LatestOutcome(ctx context.Context, deviceID string) (*models.Outcome, error) {
	raw, err := s.kv.Get(ctx, outcomePrefix+deviceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o models.Outcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return &o, nil
}

// Devices lists every device that currently has a pending record
func (s *PendingStore) Devices(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Scan(ctx, pendingPrefix+"*")
	if err != nil {
		return nil, err
	}
	devices := make([]string, 0, len(keys))
	for _, k := range keys {
		devices = append(devices, strings.TrimPrefix(k, pendingPrefix))
	}
	return devices, nil
}

// Preferences returns the device's country and theme settings
func (s *PendingStore) Preferences(ctx context.Context, deviceID string) (*models.Preferences, error) {
	prefs := &models.Preferences{}
	country, err := s.kv.Get(ctx, countryPrefix+deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	prefs.Country = country

	theme, err := s.kv.Get(ctx, themePrefix+deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	prefs.ThemeMode = theme
	return prefs, nil
}

// SavePreferences stores the non-empty fields of prefs
func (s *PendingStore) SavePreferences(ctx context.Context, deviceID string, prefs models.Preferences) error {
	if prefs.Country != "" {
		if err := s.kv.Set(ctx, countryPrefix+deviceID, prefs.Country, 0); err != nil {
			return err
		}
	}
	if prefs.ThemeMode != "" {
		if err := s.kv.Set(ctx, themePrefix+deviceID, prefs.ThemeMode, 0); err != nil {
			return err
		}
	}
	return nil
}
