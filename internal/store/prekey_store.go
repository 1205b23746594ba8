package store

import (
	"sort"

	"pinpoint/internal/domain"
)

type oneTimePrekey struct {
	Private domain.X25519Private `json:"private"`
	Seq     uint64               `json:"seq"`
}

// prekeyFile is the sealed layout of prekeys.enc.
type prekeyFile struct {
	Signed    *domain.KeyPair          `json:"signed,omitempty"`
	Signature []byte                   `json:"signature,omitempty"`
	OneTime   map[string]oneTimePrekey `json:"oneTime"`
	NextSeq   uint64                   `json:"nextSeq"`
}

func (s *FileStore) readPrekeys() (prekeyFile, error) {
	pf := prekeyFile{OneTime: map[string]oneTimePrekey{}}
	if err := s.readSealed(prekeysFile, &pf); err != nil {
		return prekeyFile{}, err
	}
	if pf.OneTime == nil {
		pf.OneTime = map[string]oneTimePrekey{}
	}
	return pf, nil
}

// SavePrekeyPair replaces the signed prekey and its signature.
func (s *FileStore) SavePrekeyPair(pair domain.KeyPair, signature []byte) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	pf, err := s.readPrekeys()
	if err != nil {
		return err
	}
	pf.Signed = &pair
	pf.Signature = append([]byte(nil), signature...)
	return s.writeSealed(prekeysFile, pf)
}

// LoadPrekeyPair returns the signed prekey pair and its signature.
func (s *FileStore) LoadPrekeyPair() (domain.KeyPair, []byte, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.KeyPair{}, nil, false, err
	}
	defer unlock()

	pf, err := s.readPrekeys()
	if err != nil {
		return domain.KeyPair{}, nil, false, err
	}
	if pf.Signed == nil {
		return domain.KeyPair{}, nil, false, nil
	}
	return *pf.Signed, pf.Signature, true, nil
}

// SaveOneTimePrekeyPairs adds pairs to the one-time prekey pool.
func (s *FileStore) SaveOneTimePrekeyPairs(pairs []domain.KeyPair) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	pf, err := s.readPrekeys()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		pf.OneTime[p.Public.String()] = oneTimePrekey{Private: p.Private, Seq: pf.NextSeq}
		pf.NextSeq++
	}
	return s.writeSealed(prekeysFile, pf)
}

// LoadPrivateOneTimePrekey looks up the private half of a pooled prekey.
func (s *FileStore) LoadPrivateOneTimePrekey(pub domain.X25519Public) (domain.X25519Private, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.X25519Private{}, false, err
	}
	defer unlock()

	pf, err := s.readPrekeys()
	if err != nil {
		return domain.X25519Private{}, false, err
	}
	p, ok := pf.OneTime[pub.String()]
	return p.Private, ok, nil
}

// DeleteOneTimePrekeyPair removes a consumed prekey. Unknown keys are ignored.
func (s *FileStore) DeleteOneTimePrekeyPair(pub domain.X25519Public) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	pf, err := s.readPrekeys()
	if err != nil {
		return err
	}
	if _, ok := pf.OneTime[pub.String()]; !ok {
		return nil
	}
	delete(pf.OneTime, pub.String())
	return s.writeSealed(prekeysFile, pf)
}

// ListOneTimePrekeyPublics returns the pooled public keys, oldest first.
func (s *FileStore) ListOneTimePrekeyPublics() ([]domain.X25519Public, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	pf, err := s.readPrekeys()
	if err != nil {
		return nil, err
	}
	type entry struct {
		pub domain.X25519Public
		seq uint64
	}
	entries := make([]entry, 0, len(pf.OneTime))
	for k, v := range pf.OneTime {
		var pub domain.X25519Public
		if err := pub.UnmarshalText([]byte(k)); err != nil {
			return nil, err
		}
		entries = append(entries, entry{pub: pub, seq: v.Seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]domain.X25519Public, len(entries))
	for i, e := range entries {
		out[i] = e.pub
	}
	return out, nil
}
