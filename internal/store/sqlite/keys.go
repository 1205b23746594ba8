package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"

	"pinpoint/internal/domain"
)

func (s *Store) sealJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.seal(raw)
}

func (s *Store) openJSON(sealed []byte, out any) error {
	raw, err := s.open(sealed)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) SaveIdentityKeyPair(pair domain.KeyPair) error {
	sealed, err := s.sealJSON(pair)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO identity (id, key_pair) VALUES (1, ?)`, sealed)
	return err
}

func (s *Store) LoadIdentityKeyPair() (domain.KeyPair, bool, error) {
	var sealed []byte
	err := s.db.QueryRow(`SELECT key_pair FROM identity WHERE id = 1`).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.KeyPair{}, false, nil
	}
	if err != nil {
		return domain.KeyPair{}, false, err
	}
	var pair domain.KeyPair
	if err := s.openJSON(sealed, &pair); err != nil {
		return domain.KeyPair{}, false, err
	}
	return pair, true, nil
}

func (s *Store) SavePrekeyPair(pair domain.KeyPair, signature []byte) error {
	sealed, err := s.sealJSON(pair)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO signed_prekey (id, key_pair, signature) VALUES (1, ?, ?)`, sealed, signature)
	return err
}

func (s *Store) LoadPrekeyPair() (domain.KeyPair, []byte, bool, error) {
	var sealed, sig []byte
	err := s.db.QueryRow(`SELECT key_pair, signature FROM signed_prekey WHERE id = 1`).Scan(&sealed, &sig)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.KeyPair{}, nil, false, nil
	}
	if err != nil {
		return domain.KeyPair{}, nil, false, err
	}
	var pair domain.KeyPair
	if err := s.openJSON(sealed, &pair); err != nil {
		return domain.KeyPair{}, nil, false, err
	}
	return pair, sig, true, nil
}

func (s *Store) SaveOneTimePrekeyPairs(pairs []domain.KeyPair) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range pairs {
		sealed, err := s.seal(p.Private.Slice())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO one_time_prekeys (public_key, private_key) VALUES (?, ?)`,
			p.Public.String(), sealed,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadPrivateOneTimePrekey(pub domain.X25519Public) (domain.X25519Private, bool, error) {
	var sealed []byte
	err := s.db.QueryRow(`SELECT private_key FROM one_time_prekeys WHERE public_key = ?`, pub.String()).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.X25519Private{}, false, nil
	}
	if err != nil {
		return domain.X25519Private{}, false, err
	}
	raw, err := s.open(sealed)
	if err != nil {
		return domain.X25519Private{}, false, err
	}
	var k domain.X25519Private
	if len(raw) != len(k) {
		return domain.X25519Private{}, false, ErrWrongKey
	}
	copy(k[:], raw)
	return k, true, nil
}

func (s *Store) DeleteOneTimePrekeyPair(pub domain.X25519Public) error {
	_, err := s.db.Exec(`DELETE FROM one_time_prekeys WHERE public_key = ?`, pub.String())
	return err
}

func (s *Store) ListOneTimePrekeyPublics() ([]domain.X25519Public, error) {
	rows, err := s.db.Query(`SELECT public_key FROM one_time_prekeys ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.X25519Public
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		var pub domain.X25519Public
		if err := pub.UnmarshalText([]byte(text)); err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, rows.Err()
}
