package store

import (
	"time"

	"github.com/penguinchat/penguinchat/internal/chat"
)

// LastSync returns when the owner last caught up with the relay, or the zero time.
func (s *Store) LastSync(owner string) (time.Time, error) {
	var ms int64
	ok, err := s.getJSON(lastSyncKey(owner), &ms)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SetLastSync records a relay catch-up time.
func (s *Store) SetLastSync(owner string, t time.Time) error {
	return s.putJSON(lastSyncKey(owner), t.UnixMilli())
}

// BackupSettings returns the owner's settings, or the defaults when none were saved.
func (s *Store) BackupSettings(owner string) (chat.BackupSettings, error) {
	settings := chat.DefaultBackupSettings()
	if _, err := s.getJSON(backupSettingsKey(owner), &settings); err != nil {
		return chat.DefaultBackupSettings(), err
	}
	if settings.FrequencyMinutes <= 0 {
		settings.FrequencyMinutes = chat.DefaultBackupSettings().FrequencyMinutes
	}
	return settings, nil
}

// SaveBackupSettings replaces the owner's settings.
func (s *Store) SaveBackupSettings(owner string, settings chat.BackupSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(backupSettingsKey(owner), settings)
}

// UpdateLastBackupTimestamp records a successful backup. Advisory only.
func (s *Store) UpdateLastBackupTimestamp(owner string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := chat.DefaultBackupSettings()
	if _, err := s.getJSON(backupSettingsKey(owner), &settings); err != nil {
		return err
	}
	settings.LastBackupTimestamp = t.UnixMilli()
	return s.putJSON(backupSettingsKey(owner), settings)
}

// IsBackupDue reports whether a frequency interval has passed since the last backup.
func (s *Store) IsBackupDue(owner string, now time.Time) (bool, error) {
	settings, err := s.BackupSettings(owner)
	if err != nil {
		return false, err
	}
	if settings.LastBackupTimestamp == 0 {
		return true, nil
	}
	elapsed := now.Sub(time.UnixMilli(settings.LastBackupTimestamp))
	return elapsed >= time.Duration(settings.FrequencyMinutes)*time.Minute, nil
}
