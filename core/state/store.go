package state

import (
	"errors"
	"io/fs"

	"go.uber.org/zap"
)

// Store is the non-volatile medium for one state image. Load returns an
// error wrapping fs.ErrNotExist if nothing was saved yet.
type Store interface {
	Load() ([]byte, error)
	Save(img []byte) error
}

// LoadLedger restores a ledger from st. A missing image yields an empty
// ledger. A corrupt image yields an empty ledger together with ErrCorrupt
// so that the caller can continue with defaults.
func LoadLedger(log *zap.Logger, st Store, capacity int) (*Ledger, error) {
	l := NewLedger(capacity)
	img, err := st.Load()
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no persisted ledger, starting empty")
		return l, nil
	}
	if err != nil {
		return l, err
	}
	err = l.UnmarshalBinary(img)
	if err != nil {
		log.Info("discarding persisted ledger", zap.Error(err))
		return l, err
	}
	return l, nil
}

// LoadSession restores a session from st. Both a missing and a corrupt image
// yield an empty session and an error; either means the session did not
// survive.
func LoadSession(log *zap.Logger, st Store, capacity int) (*Session, error) {
	s := NewSession(capacity)
	img, err := st.Load()
	if err != nil {
		return s, err
	}
	err = s.UnmarshalBinary(img)
	if err != nil {
		log.Info("discarding persisted session", zap.Error(err))
		return s, err
	}
	return s, nil
}

func SaveLedger(st Store, l *Ledger) error {
	img, err := l.MarshalBinary()
	if err != nil {
		return err
	}
	return st.Save(img)
}

func SaveSession(st Store, s *Session) error {
	img, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	return st.Save(img)
}

// MemStore keeps an image in memory, standing in for RTC user memory.
type MemStore struct {
	img []byte
}

func (m *MemStore) Load() ([]byte, error) {
	if m.img == nil {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), m.img...), nil
}

func (m *MemStore) Save(img []byte) error {
	m.img = append(m.img[:0:0], img...)
	return nil
}
