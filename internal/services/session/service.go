package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/protocol/ratchet"
	"pinpoint/internal/protocol/x3dh"
	"pinpoint/internal/util/keymutex"
	"pinpoint/internal/util/logging"
	"pinpoint/internal/util/memzero"
)

var (
	ErrInvalidPrekeySignature      = errors.New("session: invalid prekey signature")
	ErrOneTimePrekeyMissing        = errors.New("session: one-time prekey missing")
	ErrConversationNotInitialized  = errors.New("session: conversation not initialized")
	ErrMaxSkipExceeded             = errors.New("session: max skip exceeded")
	ErrDiscardedObsoleteMessage    = errors.New("session: discarded obsolete message")
	ErrDecryptionError             = errors.New("session: decryption error")
	ErrHandshakeKeyMaterialMissing = errors.New("session: handshake key material missing")
)

// handshakeLock serialises identity, prekey and one-time prekey pool updates.
const handshakeLock = "handshake"

// Config holds the middleware tunables.
type Config struct {
	MaxSkip            int
	MaxCache           int
	Info               string
	OneTimePrekeyCount int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxSkip: 1000, MaxCache: 2000, Info: "Pinpoint", OneTimePrekeyCount: 100}
}

// Service binds the key agreement and ratchet sessions to durable storage.
//
// Every operation on a (user, conversation) pair runs under that pair's
// lock: state is loaded, advanced on a private copy and written back before
// the lock is released. Operations on distinct pairs run in parallel.
type Service struct {
	store domain.CryptoStore
	cfg   Config
	log   *logrus.Entry

	conversations keymutex.Map
	handshake     keymutex.Map
}

// New constructs the middleware. A nil log uses the shared logger.
func New(store domain.CryptoStore, cfg Config, log *logrus.Entry) *Service {
	if log == nil {
		log = logging.For("session")
	}
	return &Service{store: store, cfg: cfg, log: log}
}

func lockKey(userID domain.UserID, conversationID domain.ConversationID) string {
	return userID.String() + "/" + conversationID.String()
}

// RenewHandshakeKeyMaterial makes sure identity, signed prekey and a full
// one-time prekey pool exist, creating whatever is missing, and returns the
// public halves for publication.
func (s *Service) RenewHandshakeKeyMaterial(signer domain.Signer) (domain.UserPublicKeys, error) {
	if signer == nil {
		return domain.UserPublicKeys{}, ErrHandshakeKeyMaterialMissing
	}
	unlock := s.handshake.Lock(handshakeLock)
	defer unlock()

	identity, ok, err := s.store.LoadIdentityKeyPair()
	if err != nil {
		return domain.UserPublicKeys{}, fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		if identity, err = x3dh.GenerateIdentityKeyPair(); err != nil {
			return domain.UserPublicKeys{}, err
		}
		if err := s.store.SaveIdentityKeyPair(identity); err != nil {
			return domain.UserPublicKeys{}, fmt.Errorf("save identity: %w", err)
		}
		s.log.Info("generated identity key pair")
	}

	prekey, sig, ok, err := s.store.LoadPrekeyPair()
	if err != nil {
		return domain.UserPublicKeys{}, fmt.Errorf("load prekey: %w", err)
	}
	if !ok {
		if prekey, sig, err = x3dh.GenerateSignedPrekeyPair(signer.Sign); err != nil {
			return domain.UserPublicKeys{}, err
		}
		if err := s.store.SavePrekeyPair(prekey, sig); err != nil {
			return domain.UserPublicKeys{}, fmt.Errorf("save prekey: %w", err)
		}
		s.log.Info("generated signed prekey")
	}

	pool, err := s.store.ListOneTimePrekeyPublics()
	if err != nil {
		return domain.UserPublicKeys{}, fmt.Errorf("list one-time prekeys: %w", err)
	}
	if missing := s.cfg.OneTimePrekeyCount - len(pool); missing > 0 {
		pairs, err := x3dh.GenerateOneTimePrekeyPairs(missing)
		if err != nil {
			return domain.UserPublicKeys{}, err
		}
		if err := s.store.SaveOneTimePrekeyPairs(pairs); err != nil {
			return domain.UserPublicKeys{}, fmt.Errorf("save one-time prekeys: %w", err)
		}
		for i := range pairs {
			pool = append(pool, pairs[i].Public)
			memzero.Zero(pairs[i].Private[:])
		}
		s.log.WithField("count", missing).Debug("topped up one-time prekeys")
	}

	return domain.UserPublicKeys{
		SigningKey:      signer.PublicKey(),
		IdentityKey:     identity.Public,
		SignedPrekey:    prekey.Public,
		PrekeySignature: sig,
		OneTimePrekeys:  pool,
	}, nil
}

// InitConversation runs the initiator handshake against remote and stores a
// fresh session for (userID, conversationID), replacing any previous one.
func (s *Service) InitConversation(
	userID domain.UserID,
	conversationID domain.ConversationID,
	remote domain.PublicKeyBundle,
) (domain.ConversationInvitation, error) {
	identity, ok, err := s.store.LoadIdentityKeyPair()
	if err != nil {
		return domain.ConversationInvitation{}, fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		return domain.ConversationInvitation{}, ErrHandshakeKeyMaterialMissing
	}

	agreement, err := x3dh.InitiateKeyAgreement(
		remote.IdentityKey,
		remote.SignedPrekey,
		remote.PrekeySignature,
		remote.OneTimePrekey,
		identity,
		crypto.PrekeySignatureVerifier(remote.SigningKey, remote.SignedPrekey),
		s.cfg.Info,
	)
	switch {
	case errors.Is(err, x3dh.ErrInvalidPrekeySignature):
		return domain.ConversationInvitation{}, ErrInvalidPrekeySignature
	case err != nil:
		return domain.ConversationInvitation{}, err
	}
	defer memzero.Zero(agreement.SharedSecret)

	unlock := s.conversations.Lock(lockKey(userID, conversationID))
	defer unlock()

	// Keys skipped under the replaced session must not open anything now.
	cache := s.store.MessageKeyCache(userID, conversationID)
	if err := cache.Clear(); err != nil {
		return domain.ConversationInvitation{}, fmt.Errorf("clear message keys: %w", err)
	}

	sess, err := ratchet.New(
		ratchet.Initiator{RemotePublicKey: remote.SignedPrekey},
		agreement.SharedSecret,
		s.ratchetConfig(),
		cache,
	)
	if err != nil {
		return domain.ConversationInvitation{}, err
	}
	if err := s.saveState(userID, conversationID, sess); err != nil {
		return domain.ConversationInvitation{}, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"conversation_id": conversationID,
		"one_time_prekey": remote.OneTimePrekey != nil,
	}).Debug("initiated conversation")

	var used *domain.X25519Public
	if remote.OneTimePrekey != nil {
		k := *remote.OneTimePrekey
		used = &k
	}
	return domain.ConversationInvitation{
		IdentityKey:       identity.Public,
		EphemeralKey:      agreement.EphemeralPublicKey,
		UsedOneTimePrekey: used,
	}, nil
}

// ProcessConversationInvitation completes a handshake a peer initiated and
// stores the responder session. The referenced one-time prekey is consumed.
func (s *Service) ProcessConversationInvitation(
	invitation domain.ConversationInvitation,
	userID domain.UserID,
	conversationID domain.ConversationID,
) error {
	if invitation.UsedOneTimePrekey == nil {
		return ErrOneTimePrekeyMissing
	}

	// The pool lock is held across lookup and delete so two invitations
	// naming the same prekey cannot both succeed.
	unlockPool := s.handshake.Lock(handshakeLock)
	defer unlockPool()

	otpk, ok, err := s.store.LoadPrivateOneTimePrekey(*invitation.UsedOneTimePrekey)
	if err != nil {
		return fmt.Errorf("load one-time prekey: %w", err)
	}
	if !ok {
		return ErrOneTimePrekeyMissing
	}
	defer memzero.Zero(otpk[:])

	identity, ok, err := s.store.LoadIdentityKeyPair()
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		return ErrHandshakeKeyMaterialMissing
	}
	prekey, _, ok, err := s.store.LoadPrekeyPair()
	if err != nil {
		return fmt.Errorf("load prekey: %w", err)
	}
	if !ok {
		return ErrHandshakeKeyMaterialMissing
	}

	secret, err := x3dh.SharedSecretFromKeyAgreement(
		invitation.IdentityKey,
		invitation.EphemeralKey,
		&domain.KeyPair{Private: otpk, Public: *invitation.UsedOneTimePrekey},
		identity,
		prekey,
		s.cfg.Info,
	)
	if err != nil {
		return err
	}
	defer memzero.Zero(secret)

	unlock := s.conversations.Lock(lockKey(userID, conversationID))
	defer unlock()

	// Keys skipped under the replaced session must not open anything now.
	cache := s.store.MessageKeyCache(userID, conversationID)
	if err := cache.Clear(); err != nil {
		return fmt.Errorf("clear message keys: %w", err)
	}

	sess, err := ratchet.New(
		ratchet.Responder{KeyPair: prekey},
		secret,
		s.ratchetConfig(),
		cache,
	)
	if err != nil {
		return err
	}
	if err := s.saveState(userID, conversationID, sess); err != nil {
		return err
	}
	if err := s.store.DeleteOneTimePrekeyPair(*invitation.UsedOneTimePrekey); err != nil {
		return fmt.Errorf("delete one-time prekey: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"conversation_id": conversationID,
	}).Debug("processed conversation invitation")
	return nil
}

// ConversationExisting reports whether a session is stored for the pair.
func (s *Service) ConversationExisting(userID domain.UserID, conversationID domain.ConversationID) (bool, error) {
	_, ok, err := s.store.LoadConversationState(userID, conversationID)
	return ok, err
}

// ConversationFingerprint returns the ratchet public key carried by a wire
// message, base64 encoded. It only identifies the sending chain.
func (s *Service) ConversationFingerprint(ciphertext []byte) (domain.Fingerprint, error) {
	var msg domain.Message
	if err := json.Unmarshal(ciphertext, &msg); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}
	return domain.Fingerprint(msg.Header.PublicKey.String()), nil
}

// Encrypt advances the sending chain for the pair and returns the wire
// encoded message. The new state is stored before returning.
func (s *Service) Encrypt(
	plaintext []byte,
	userID domain.UserID,
	conversationID domain.ConversationID,
) ([]byte, error) {
	unlock := s.conversations.Lock(lockKey(userID, conversationID))
	defer unlock()

	sess, err := s.restore(userID, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := sess.Encrypt(plaintext)
	switch {
	case errors.Is(err, ratchet.ErrSendingChainUninitialised):
		return nil, fmt.Errorf("%w: no sending chain yet", ErrConversationNotInitialized)
	case err != nil:
		return nil, err
	}
	if err := s.saveState(userID, conversationID, sess); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decrypt unwraps the content key from encryptedSecretKey with the ratchet,
// stores the advanced state, then opens encryptedData with that key.
func (s *Service) Decrypt(
	encryptedData []byte,
	encryptedSecretKey []byte,
	userID domain.UserID,
	conversationID domain.ConversationID,
) ([]byte, error) {
	unlock := s.conversations.Lock(lockKey(userID, conversationID))
	defer unlock()

	sess, err := s.restore(userID, conversationID)
	if err != nil {
		return nil, err
	}

	var msg domain.Message
	if err := json.Unmarshal(encryptedSecretKey, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", ErrDecryptionError, err)
	}
	contentKey, err := sess.Decrypt(msg)
	if err != nil {
		return nil, mapRatchetError(err)
	}
	defer memzero.Zero(contentKey)

	if err := s.saveState(userID, conversationID, sess); err != nil {
		return nil, err
	}
	if len(contentKey) != crypto.ContentKeySize {
		return nil, fmt.Errorf("%w: content key is %d bytes", ErrDecryptionError, len(contentKey))
	}

	plaintext, err := crypto.OpenPayload(contentKey, encryptedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionError, err)
	}
	return plaintext, nil
}

func mapRatchetError(err error) error {
	switch {
	case errors.Is(err, ratchet.ErrExceedMaxSkip):
		return ErrMaxSkipExceeded
	case errors.Is(err, ratchet.ErrDiscardOldMessage):
		return ErrDiscardedObsoleteMessage
	case errors.Is(err, ratchet.ErrDecryptionFailed):
		return ErrDecryptionError
	default:
		return fmt.Errorf("%w: %v", ErrDecryptionError, err)
	}
}

func (s *Service) ratchetConfig() ratchet.Config {
	return ratchet.Config{MaxSkip: s.cfg.MaxSkip, MaxCache: s.cfg.MaxCache, Info: s.cfg.Info}
}

// restore must be called with the pair's lock held.
func (s *Service) restore(userID domain.UserID, conversationID domain.ConversationID) (*ratchet.Session, error) {
	st, ok, err := s.store.LoadConversationState(userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation state: %w", err)
	}
	if !ok {
		return nil, ErrConversationNotInitialized
	}
	return ratchet.Restore(st.State, s.store.MessageKeyCache(userID, conversationID))
}

// saveState must be called with the pair's lock held.
func (s *Service) saveState(userID domain.UserID, conversationID domain.ConversationID, sess *ratchet.Session) error {
	err := s.store.SaveConversationState(domain.ConversationState{
		UserID:         userID,
		ConversationID: conversationID,
		State:          sess.SessionState(),
	})
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("persist conversation state")
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

// Compile-time assertion that Service implements domain.CryptoMiddleware.
var _ domain.CryptoMiddleware = (*Service)(nil)
