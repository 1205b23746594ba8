package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/util/memzero"
)

const (
	keySize   = 32
	nonceSize = chacha20poly1305.NonceSize
)

var (
	ErrExceedMaxSkip             = errors.New("ratchet: skipped too many messages")
	ErrDiscardOldMessage         = errors.New("ratchet: message is behind the receiving chain")
	ErrDecryptionFailed          = errors.New("ratchet: message authentication failed")
	ErrSendingChainUninitialised = errors.New("ratchet: sending chain is uninitialised")
	ErrInvalidState              = errors.New("ratchet: invalid session state")
)

var (
	chainMessageKeyInput = []byte{0x01}
	chainNextKeyInput    = []byte{0x02}
)

// Role seeds a fresh session. It is either Initiator or Responder.
type Role interface{ role() }

// Initiator starts sending right away towards the responder's signed prekey.
type Initiator struct {
	RemotePublicKey domain.X25519Public
}

// Responder waits for the first message; its signed prekey pair is the
// initial ratchet key.
type Responder struct {
	KeyPair domain.KeyPair
}

func (Initiator) role() {}
func (Responder) role() {}

// Config bounds a session.
type Config struct {
	MaxSkip  int    // furthest a single message may jump ahead in a chain
	MaxCache int    // most skipped message keys kept
	Info     string // KDF domain separation
}

// Session is one direction-pair of symmetric ratchets plus the DH ratchet
// that refreshes them.
type Session struct {
	state domain.SessionState
	cache domain.MessageKeyCache
}

// New creates a session from a key agreement output.
func New(role Role, sharedSecret []byte, cfg Config, cache domain.MessageKeyCache) (*Session, error) {
	if len(sharedSecret) != keySize {
		return nil, fmt.Errorf("%w: shared secret is %d bytes", ErrInvalidState, len(sharedSecret))
	}
	if cfg.MaxSkip < 0 || cfg.MaxCache < 0 {
		return nil, fmt.Errorf("%w: negative bounds", ErrInvalidState)
	}
	if cache == nil {
		return nil, fmt.Errorf("%w: nil message key cache", ErrInvalidState)
	}

	st := domain.SessionState{
		Info:     cfg.Info,
		MaxSkip:  cfg.MaxSkip,
		MaxCache: cfg.MaxCache,
	}

	switch r := role.(type) {
	case Initiator:
		pair, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		dh, err := crypto.DH(pair.Private, r.RemotePublicKey)
		if err != nil {
			return nil, err
		}
		rk, ck := kdfRK(sharedSecret, dh[:], cfg.Info)
		memzero.Zero(dh[:])

		remote := r.RemotePublicKey
		st.RootKey = rk
		st.RootChainKeyPair = pair
		st.RootChainRemotePublicKey = &remote
		st.SendingChainKey = ck
	case Responder:
		if r.KeyPair.Private.IsZero() {
			return nil, fmt.Errorf("%w: responder key pair is empty", ErrInvalidState)
		}
		st.RootKey = append([]byte(nil), sharedSecret...)
		st.RootChainKeyPair = r.KeyPair
	default:
		return nil, fmt.Errorf("%w: unknown role %T", ErrInvalidState, role)
	}

	return &Session{state: st, cache: cache}, nil
}

// Restore resumes a session from persisted state.
func Restore(state domain.SessionState, cache domain.MessageKeyCache) (*Session, error) {
	if len(state.RootKey) != keySize || state.MaxSkip < 0 || state.MaxCache < 0 {
		return nil, ErrInvalidState
	}
	if cache == nil {
		return nil, fmt.Errorf("%w: nil message key cache", ErrInvalidState)
	}
	return &Session{state: cloneState(state), cache: cache}, nil
}

// SessionState returns a copy of the current state for persistence.
func (s *Session) SessionState() domain.SessionState { return cloneState(s.state) }

// Encrypt advances the sending chain by one step and seals plaintext.
func (s *Session) Encrypt(plaintext []byte) (domain.Message, error) {
	if len(s.state.SendingChainKey) == 0 {
		return domain.Message{}, ErrSendingChainUninitialised
	}

	mk, next := kdfCK(s.state.SendingChainKey)
	defer memzero.Zero(mk)

	header := domain.MessageHeader{
		PublicKey:                              s.state.RootChainKeyPair.Public,
		NumberOfMessagesInPreviousSendingChain: s.state.PreviousSendingChainLength,
		MessageNumber:                          s.state.SendMessageNumber,
	}
	ct, err := seal(mk, header, s.state.Info, plaintext)
	if err != nil {
		memzero.Zero(next)
		return domain.Message{}, err
	}

	memzero.Zero(s.state.SendingChainKey)
	s.state.SendingChainKey = next
	s.state.SendMessageNumber++
	return domain.Message{Header: header, Cipher: ct}, nil
}

// Decrypt opens msg, stepping the DH ratchet when the sender's ratchet key
// changed. Nothing is committed, neither state nor cache, unless the message
// authenticates.
func (s *Session) Decrypt(msg domain.Message) ([]byte, error) {
	h := msg.Header

	mk, ok, err := s.cache.MessageKey(h.PublicKey, h.MessageNumber)
	if err != nil {
		return nil, err
	}
	if ok {
		pt, err := open(mk, h, s.state.Info, msg.Cipher)
		memzero.Zero(mk)
		if err != nil {
			return nil, ErrDecryptionFailed
		}
		if err := s.cache.DeleteMessageKey(h.PublicKey, h.MessageNumber); err != nil {
			return nil, err
		}
		return pt, nil
	}

	remote := s.state.RootChainRemotePublicKey
	sameChain := remote != nil && *remote == h.PublicKey
	if sameChain && h.MessageNumber < s.state.ReceivedMessageNumber {
		return nil, ErrDiscardOldMessage
	}

	work := cloneState(s.state)
	var skipped []domain.SkippedMessageKey
	fail := func(err error) ([]byte, error) {
		wipeState(&work)
		wipeSkipped(skipped)
		return nil, err
	}

	if !sameChain {
		if skipped, err = skipMessageKeys(&work, h.NumberOfMessagesInPreviousSendingChain, skipped); err != nil {
			return fail(err)
		}
		if err := dhRatchet(&work, h.PublicKey); err != nil {
			return fail(err)
		}
	}
	if skipped, err = skipMessageKeys(&work, h.MessageNumber, skipped); err != nil {
		return fail(err)
	}
	if len(work.ReceivingChainKey) == 0 {
		return fail(ErrDecryptionFailed)
	}

	mk, next := kdfCK(work.ReceivingChainKey)
	memzero.Zero(work.ReceivingChainKey)
	work.ReceivingChainKey = next
	work.ReceivedMessageNumber++

	pt, err := open(mk, h, work.Info, msg.Cipher)
	memzero.Zero(mk)
	if err != nil {
		return fail(ErrDecryptionFailed)
	}

	if len(skipped) > 0 {
		if err := s.cache.AddMessageKeys(skipped, work.MaxCache); err != nil {
			return fail(err)
		}
	}

	wipeState(&s.state)
	s.state = work
	return pt, nil
}

// skipMessageKeys derives and stages receiving-chain keys up to, but not
// including, until.
func skipMessageKeys(st *domain.SessionState, until uint32, out []domain.SkippedMessageKey) ([]domain.SkippedMessageKey, error) {
	if len(st.ReceivingChainKey) == 0 || until <= st.ReceivedMessageNumber {
		return out, nil
	}
	if int64(until)-int64(st.ReceivedMessageNumber) > int64(st.MaxSkip) {
		return out, ErrExceedMaxSkip
	}
	if st.RootChainRemotePublicKey == nil {
		return out, ErrInvalidState
	}
	pub := *st.RootChainRemotePublicKey
	for st.ReceivedMessageNumber < until {
		mk, next := kdfCK(st.ReceivingChainKey)
		memzero.Zero(st.ReceivingChainKey)
		st.ReceivingChainKey = next
		out = append(out, domain.SkippedMessageKey{
			PublicKey:     pub,
			MessageNumber: st.ReceivedMessageNumber,
			Key:           mk,
		})
		st.ReceivedMessageNumber++
	}
	return out, nil
}

// dhRatchet derives a receiving chain from the peer's new ratchet key and a
// sending chain from a fresh local key pair.
func dhRatchet(st *domain.SessionState, remote domain.X25519Public) error {
	dh, err := crypto.DH(st.RootChainKeyPair.Private, remote)
	if err != nil {
		return ErrDecryptionFailed
	}
	rk, recvCK := kdfRK(st.RootKey, dh[:], st.Info)
	memzero.Zero(dh[:])

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	dh2, err := crypto.DH(pair.Private, remote)
	if err != nil {
		return err
	}
	rk2, sendCK := kdfRK(rk, dh2[:], st.Info)
	memzero.All(dh2[:], rk)
	wipeState(st)

	st.PreviousSendingChainLength = st.SendMessageNumber
	st.SendMessageNumber = 0
	st.ReceivedMessageNumber = 0
	st.RootChainRemotePublicKey = &remote
	st.RootKey = rk2
	st.RootChainKeyPair = pair
	st.ReceivingChainKey = recvCK
	st.SendingChainKey = sendCK
	return nil
}

// --- helpers ---

func seal(mk []byte, h domain.MessageHeader, info string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:keySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], h.MessageNumber)
	return aead.Seal(nil, nonce, plaintext, associatedData(h, info)), nil
}

func open(mk []byte, h domain.MessageHeader, info string, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:keySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], h.MessageNumber)
	return aead.Open(nil, nonce, ciphertext, associatedData(h, info))
}

func associatedData(h domain.MessageHeader, info string) []byte {
	out := make([]byte, 0, len(info)+len(h.PublicKey)+8)
	out = append(out, info...)
	out = append(out, h.PublicKey[:]...)
	out = binary.BigEndian.AppendUint32(out, h.NumberOfMessagesInPreviousSendingChain)
	out = binary.BigEndian.AppendUint32(out, h.MessageNumber)
	return out
}

// kdfRK mixes a DH output into the root key: HKDF(salt=rk, ikm=dh).
func kdfRK(rk, dh []byte, info string) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, dh, rk, []byte(info))
	newRK = make([]byte, keySize)
	ck = make([]byte, keySize)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

// kdfCK steps a chain: mk = HMAC(ck, 0x01), next = HMAC(ck, 0x02).
func kdfCK(ck []byte) (mk, next []byte) {
	m := hmac.New(sha256.New, ck)
	m.Write(chainMessageKeyInput)
	mk = m.Sum(nil)

	n := hmac.New(sha256.New, ck)
	n.Write(chainNextKeyInput)
	next = n.Sum(nil)
	return
}

func cloneState(st domain.SessionState) domain.SessionState {
	out := st
	out.RootKey = cloneBytes(st.RootKey)
	out.SendingChainKey = cloneBytes(st.SendingChainKey)
	out.ReceivingChainKey = cloneBytes(st.ReceivingChainKey)
	if st.RootChainRemotePublicKey != nil {
		remote := *st.RootChainRemotePublicKey
		out.RootChainRemotePublicKey = &remote
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func wipeState(st *domain.SessionState) {
	memzero.All(st.RootKey, st.SendingChainKey, st.ReceivingChainKey, st.RootChainKeyPair.Private[:])
}

func wipeSkipped(keys []domain.SkippedMessageKey) {
	for _, k := range keys {
		memzero.Zero(k.Key)
	}
}
