package store

import "pinpoint/internal/domain"

type identityRecord struct {
	KeyPair domain.KeyPair `json:"keyPair"`
}

// SaveIdentityKeyPair seals and writes the long-term X25519 identity pair.
func (s *FileStore) SaveIdentityKeyPair(pair domain.KeyPair) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	return s.writeSealed(identityFile, identityRecord{KeyPair: pair})
}

// LoadIdentityKeyPair returns the identity pair and whether one was stored.
func (s *FileStore) LoadIdentityKeyPair() (domain.KeyPair, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.KeyPair{}, false, err
	}
	defer unlock()

	var rec identityRecord
	if err := s.readSealed(identityFile, &rec); err != nil {
		return domain.KeyPair{}, false, err
	}
	if rec.KeyPair.Private.IsZero() {
		return domain.KeyPair{}, false, nil
	}
	return rec.KeyPair, true, nil
}
