// Package eeprom persists the settings record to a file, standing in for the
// EEPROM block of the original hardware. Writes are atomic: a temp file in
// the same directory is synced and renamed over the record.

package eeprom

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/core/settings"
)

type Store struct {
	log  *zap.Logger
	path string
}

var _ engine.Store = (*Store)(nil)

func NewStore(log *zap.Logger, path string) *Store {
	return &Store{log: log, path: path}
}

// Load reads the settings record. A missing, truncated or otherwise unusable
// record soft-fails to a zero record with an invalid tag, which sends the
// engine down the cold-start branch; only unexpected I/O errors propagate.
func (s *Store) Load() (settings.Settings, error) {
	var rec settings.Settings
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no settings record", zap.String("path", s.path))
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	err = rec.UnmarshalBinary(data)
	if err != nil {
		s.log.Warn("unusable settings record",
			zap.String("path", s.path),
			zap.Int("len", len(data)),
			zap.Error(err),
		)
		return settings.Settings{}, nil
	}
	return rec, nil
}

// Save writes the record atomically: temp file, sync, rename.
func (s *Store) Save(rec settings.Settings) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = syncFile(f)
	}
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	err = os.Rename(tmp, s.path)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	s.log.Debug("settings record written", zap.String("path", s.path))
	return nil
}
