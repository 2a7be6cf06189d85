// Package jsonrepo implements internal/repo's contracts on top of a
// single JSON file holding every collection (accounts, positions,
// rules, alerts, logs). Writes are atomic: temp-file-then-rename with
// an EXDEV fallback, restrictive permissions, and directory fsync.
package jsonrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rollwatch/rollwatch/internal/apperr"
	"github.com/rollwatch/rollwatch/internal/models"
)

// Data is the complete on-disk document.
type Data struct {
	LastUpdated time.Time                 `json:"last_updated"`
	Accounts    map[string]models.Account  `json:"accounts"`
	Positions   map[string]models.Position `json:"positions"`
	Rules       map[string]models.Rule     `json:"rules"`
	Alerts      map[string]models.Alert    `json:"alerts"`
	Logs        []models.Log               `json:"logs"`
}

// Store is the shared file-backed repository implementing every
// internal/repo interface; the composition root hands out *Store
// wherever an AccountRepo/PositionRepo/... is expected.
type Store struct {
	mu       sync.RWMutex
	data     *Data
	filepath string
}

// New loads (or initializes) the JSON document at path.
func New(path string) (*Store, error) {
	s := &Store{
		filepath: path,
		data: &Data{
			Accounts:  make(map[string]models.Account),
			Positions: make(map[string]models.Position),
			Rules:     make(map[string]models.Rule),
			Alerts:    make(map[string]models.Alert),
		},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if loadErr := s.load(); loadErr != nil {
			return nil, fmt.Errorf("loading repo: %w", loadErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat repo file: %w", err)
	}

	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	var loaded Data
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return err
	}
	s.data = &loaded
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]models.Account)
	}
	if s.data.Positions == nil {
		s.data.Positions = make(map[string]models.Position)
	}
	if s.data.Rules == nil {
		s.data.Rules = make(map[string]models.Rule)
	}
	if s.data.Alerts == nil {
		s.data.Alerts = make(map[string]models.Alert)
	}
	return nil
}

// saveUnsafe writes s.data atomically. Caller must hold s.mu.
func (s *Store) saveUnsafe() error {
	s.data.LastUpdated = time.Now().UTC()

	dir := filepath.Dir(s.filepath)
	f, err := os.CreateTemp(dir, ".rollwatch-*")
	if err != nil {
		return err
	}
	tmpFile := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	defer func() {
		if tmpFile != "" {
			os.Remove(tmpFile)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	dirSynced := false
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := copyFile(tmpFile, s.filepath); copyErr != nil {
				return fmt.Errorf("copy temp file across devices: %w", copyErr)
			}
			dirSynced = true
		} else {
			return fmt.Errorf("rename temp file: %w", err)
		}
	}
	tmpFile = ""

	if !dirSynced {
		if err := syncParentDir(s.filepath); err != nil {
			return fmt.Errorf("sync parent directory: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstDir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dstDir, ".copy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, srcFile); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	return syncParentDir(dst)
}

func syncParentDir(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// --- AccountRepo ---

func (s *Store) GetAll(_ context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, 0, len(s.data.Accounts))
	for _, a := range s.data.Accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetByID(_ context.Context, id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, apperr.New(apperr.CodeNotFound, "account not found: "+id)
	}
	return a, nil
}

func (s *Store) UserOwnsAccount(_ context.Context, accountID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.Accounts[accountID]
	if !ok {
		return false, apperr.New(apperr.CodeNotFound, "account not found: "+accountID)
	}
	return a.UserID == userID, nil
}

// --- PositionRepo ---

func (s *Store) GetOpenPositions(_ context.Context, accountID string) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Position
	for _, p := range s.data.Positions {
		if p.AccountID == accountID && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetPositionByID(_ context.Context, id string) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.Positions[id]
	if !ok {
		return models.Position{}, apperr.New(apperr.CodeNotFound, "position not found: "+id)
	}
	return p, nil
}

func (s *Store) GetUserPosition(ctx context.Context, id, userID string) (models.Position, error) {
	p, err := s.GetPositionByID(ctx, id)
	if err != nil {
		return models.Position{}, err
	}
	owns, err := s.UserOwnsAccount(ctx, p.AccountID, userID)
	if err != nil {
		return models.Position{}, err
	}
	if !owns {
		return models.Position{}, apperr.New(apperr.CodeAuthorization, "user does not own this position")
	}
	return p, nil
}

func (s *Store) ExpireOverduePositions(_ context.Context, asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, p := range s.data.Positions {
		if p.Status == models.PositionOpen && p.DTE(asOf) < 0 {
			p.Status = models.PositionExpired
			s.data.Positions[id] = p
			count++
		}
	}
	if count > 0 {
		if err := s.saveUnsafe(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// --- RuleRepo ---

func (s *Store) GetActiveRules(_ context.Context, accountID string) ([]models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Rule
	for _, r := range s.data.Rules {
		if r.AccountID == accountID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- AlertRepo ---

func (s *Store) Create(_ context.Context, alert models.Alert) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = models.AlertPending
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	s.data.Alerts[alert.ID] = alert
	if err := s.saveUnsafe(); err != nil {
		return models.Alert{}, apperr.Wrap(apperr.CodeDatabase, "create alert", err)
	}
	return alert, nil
}

func (s *Store) GetPendingAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Alert
	for _, a := range s.data.Alerts {
		if a.Status == models.AlertPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetByAccountID(_ context.Context, accountID string, status *models.AlertStatus, _ string) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Alert
	for _, a := range s.data.Alerts {
		if a.AccountID != accountID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetAlertByID(_ context.Context, id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.Alerts[id]
	if !ok {
		return models.Alert{}, apperr.New(apperr.CodeNotFound, "alert not found: "+id)
	}
	return a, nil
}

func (s *Store) ExistsForPositionRuleOnDate(_ context.Context, positionID, ruleID string, reason models.AlertReason, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := date.Format("2006-01-02")
	for _, a := range s.data.Alerts {
		if a.Reason != reason {
			continue
		}
		if a.OptionPositionID == nil || *a.OptionPositionID != positionID {
			continue
		}
		if a.Payload.RuleID != ruleID {
			continue
		}
		if a.CreatedAt.Format("2006-01-02") == day {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ExistsExpirationWarning(_ context.Context, positionID string, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := date.Format("2006-01-02")
	for _, a := range s.data.Alerts {
		if a.Reason != models.ReasonExpirationWarning {
			continue
		}
		if a.OptionPositionID == nil || *a.OptionPositionID != positionID {
			continue
		}
		if a.CreatedAt.Format("2006-01-02") == day {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status models.AlertStatus, errExcerpt string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Alerts[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "alert not found: "+id)
	}
	a.Status = status
	if errExcerpt != "" {
		a.Payload.ErrorExcerpt = errExcerpt
	}
	now := time.Now().UTC()
	switch status {
	case models.AlertProcessing:
		a.DispatchedAt = &now
	case models.AlertSent, models.AlertFailed:
		a.CompletedAt = &now
	}
	s.data.Alerts[id] = a
	return s.saveUnsafe()
}

func (s *Store) MergePayload(_ context.Context, id string, patch models.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Alerts[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "alert not found: "+id)
	}
	a.Payload.Merge(patch)
	s.data.Alerts[id] = a
	return s.saveUnsafe()
}

func (s *Store) RetryFailedAlert(_ context.Context, id string) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Alerts[id]
	if !ok {
		return models.Alert{}, apperr.New(apperr.CodeNotFound, "alert not found: "+id)
	}
	if a.Status != models.AlertFailed {
		return models.Alert{}, apperr.New(apperr.CodeConflict, "only FAILED alerts may be retried")
	}
	a.Status = models.AlertPending
	a.Payload.ManualRetry = true
	a.DispatchedAt = nil
	a.CompletedAt = nil
	s.data.Alerts[id] = a
	if err := s.saveUnsafe(); err != nil {
		return models.Alert{}, err
	}
	return a, nil
}

func (s *Store) CleanupOldAlerts(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, a := range s.data.Alerts {
		if a.Status == models.AlertSent && a.CreatedAt.Before(cutoff) {
			delete(s.data.Alerts, id)
			count++
		}
	}
	if count > 0 {
		if err := s.saveUnsafe(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// --- LogRepo ---

func (s *Store) CreateLog(_ context.Context, log models.Log) (models.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().UTC()
	}
	s.data.Logs = append(s.data.Logs, log)
	if err := s.saveUnsafe(); err != nil {
		return models.Log{}, apperr.Wrap(apperr.CodeDatabase, "create log", err)
	}
	return log, nil
}

func (s *Store) CleanupOldLogs(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	kept := s.data.Logs[:0]
	removed := 0
	for _, l := range s.data.Logs {
		if l.Status == models.LogSuccess && l.SentAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	s.data.Logs = kept
	if removed > 0 {
		if err := s.saveUnsafe(); err != nil {
			return 0, err
		}
	}
	return removed, nil
}
