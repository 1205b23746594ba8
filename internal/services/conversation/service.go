package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pinpoint/internal/domain"
	"pinpoint/internal/services/session"
	"pinpoint/internal/util/clock"
	"pinpoint/internal/util/keymutex"
	"pinpoint/internal/util/logging"
)

var (
	// ErrInvalidConversation means the message cannot be trusted yet: it lost an
	// invitation race, predates a reset, or arrived while a reset is cooling down.
	ErrInvalidConversation = errors.New("conversation: invalid conversation")

	// ErrObsoleteMessage means the message was a duplicate or was superseded.
	ErrObsoleteMessage = errors.New("conversation: obsolete message")

	// ErrConversationHasBeenResynced means the message is lost but a reset was
	// sent so the channel works again for later messages.
	ErrConversationHasBeenResynced = errors.New("conversation: conversation has been resynced")

	// ErrNoResetReplier is returned when a reset is due but nobody can send it.
	ErrNoResetReplier = errors.New("conversation: no reset replier configured")

	// ErrInvalidPayload means the message decrypted but does not hold a
	// payload container. The ratchet has already moved past it.
	ErrInvalidPayload = errors.New("conversation: invalid payload")
)

// DefaultResendResetTimeout is the cooldown between resets for one fingerprint.
const DefaultResendResetTimeout = 60 * time.Second

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	ResendResetTimeout time.Duration
	Clock              clock.Clock
	Log                *logrus.Entry
}

// Service is the per-recipient policy layer over the crypto middleware. It
// picks the channel, tracks invitations in both directions and runs the
// reset protocol when a peer's messages stop decrypting.
type Service struct {
	crypto  domain.CryptoMiddleware
	store   domain.ConversationStore
	backend domain.KeyBackend

	clock              clock.Clock
	resendResetTimeout time.Duration
	log                *logrus.Entry

	locks keymutex.Map

	mu      sync.RWMutex
	replier domain.ResetReplier
}

// New constructs a Service. The reset replier is set separately with
// SetResetReplier because it usually sits above this layer.
func New(
	crypto domain.CryptoMiddleware,
	store domain.ConversationStore,
	backend domain.KeyBackend,
	opts Options,
) *Service {
	s := &Service{
		crypto:             crypto,
		store:              store,
		backend:            backend,
		clock:              opts.Clock,
		resendResetTimeout: opts.ResendResetTimeout,
		log:                opts.Log,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.resendResetTimeout <= 0 {
		s.resendResetTimeout = DefaultResendResetTimeout
	}
	if s.log == nil {
		s.log = logging.For("conversation")
	}
	return s
}

// SetResetReplier installs the collaborator that delivers reset messages.
func (s *Service) SetResetReplier(r domain.ResetReplier) {
	s.mu.Lock()
	s.replier = r
	s.mu.Unlock()
}

func (s *Service) resetReplier() domain.ResetReplier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replier
}

func (s *Service) lock(userID domain.UserID, conversationID domain.ConversationID) func() {
	return s.locks.Lock(userID.String() + "/" + conversationID.String())
}

func (s *Service) entry(userID domain.UserID, conversationID domain.ConversationID) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{"user_id": userID, "conversation_id": conversationID})
}

// InitConversation starts a fresh handshake towards userID on the chosen
// channel and records the outbound invitation.
func (s *Service) InitConversation(ctx context.Context, userID domain.UserID, collapsing bool) error {
	conv := domain.ConversationIDFor(collapsing)
	unlock := s.lock(userID, conv)
	defer unlock()
	return s.initLocked(ctx, userID, conv)
}

func (s *Service) initLocked(ctx context.Context, userID domain.UserID, conv domain.ConversationID) error {
	bundle, err := s.backend.GetUserKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user keys: %w", err)
	}
	inv, err := s.crypto.InitConversation(userID, conv, bundle)
	if err != nil {
		return err
	}
	err = s.store.StoreOutboundConversationInvitation(domain.OutboundConversationInvitation{
		ReceiverID:             userID,
		ConversationID:         conv,
		Timestamp:              s.clock.Now(),
		ConversationInvitation: inv,
	})
	if err != nil {
		return fmt.Errorf("store outbound invitation: %w", err)
	}
	s.entry(userID, conv).Debug("conversation initiated")
	return nil
}

// IsConversationInitialized reports whether a session exists on the channel.
func (s *Service) IsConversationInitialized(userID domain.UserID, collapsing bool) (bool, error) {
	return s.crypto.ConversationExisting(userID, domain.ConversationIDFor(collapsing))
}

// Encrypt wraps data for userID, initiating the conversation first if needed.
func (s *Service) Encrypt(ctx context.Context, data []byte, userID domain.UserID, collapsing bool) ([]byte, error) {
	conv := domain.ConversationIDFor(collapsing)
	unlock := s.lock(userID, conv)
	defer unlock()

	ok, err := s.crypto.ConversationExisting(userID, conv)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.initLocked(ctx, userID, conv); err != nil {
			return nil, err
		}
	}
	return s.crypto.Encrypt(data, userID, conv)
}

// ConversationInvitation returns the pending outbound invitation to attach to
// the next message for userID, or nil once the peer has answered.
func (s *Service) ConversationInvitation(userID domain.UserID, collapsing bool) (*domain.ConversationInvitation, error) {
	out, ok, err := s.store.OutboundConversationInvitation(userID, domain.ConversationIDFor(collapsing))
	if err != nil || !ok {
		return nil, err
	}
	inv := out.ConversationInvitation
	return &inv, nil
}

// HandleConversationResync records that the sender reset the conversation at
// the message's timestamp. Anything older from them is dropped from now on.
func (s *Service) HandleConversationResync(meta domain.PayloadMetaInfo) error {
	conv := domain.ConversationIDFor(meta.Collapsing())
	unlock := s.lock(meta.SenderID, conv)
	defer unlock()

	if err := s.store.StoreReceivedReset(meta.SenderID, conv, meta.Timestamp); err != nil {
		return fmt.Errorf("store received reset: %w", err)
	}
	s.entry(meta.SenderID, conv).Info("peer reset conversation")
	return nil
}

// pendingReset is a reset reply decided under the conversation lock and sent
// after it is released.
type pendingReset struct {
	fingerprint domain.Fingerprint
	timestamp   time.Time
}

// Decrypt opens an inbound payload, handling any attached invitation and
// starting the reset protocol when the sender's session is out of sync.
func (s *Service) Decrypt(
	ctx context.Context,
	payload domain.EncryptedPayloadContainer,
	meta domain.PayloadMetaInfo,
) (domain.PayloadContainer, error) {
	conv := domain.ConversationIDFor(meta.Collapsing())

	unlock := s.lock(meta.SenderID, conv)
	plaintext, reset, err := s.decryptLocked(ctx, payload, meta, conv)
	unlock()

	if reset != nil {
		return domain.PayloadContainer{}, s.sendReset(ctx, meta, conv, *reset)
	}
	if err != nil {
		return domain.PayloadContainer{}, err
	}

	var pc domain.PayloadContainer
	if err := json.Unmarshal(plaintext, &pc); err != nil {
		return domain.PayloadContainer{}, fmt.Errorf("%w: decode payload container: %v", ErrInvalidPayload, err)
	}
	return pc, nil
}

func (s *Service) decryptLocked(
	ctx context.Context,
	payload domain.EncryptedPayloadContainer,
	meta domain.PayloadMetaInfo,
	conv domain.ConversationID,
) ([]byte, *pendingReset, error) {
	log := s.entry(meta.SenderID, conv).WithField("envelope_id", meta.EnvelopeID)

	fp, err := s.crypto.ConversationFingerprint(payload.EncryptedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConversation, err)
	}
	log = log.WithField("fingerprint", fp)

	resetAt, ok, err := s.store.ReceivedReset(meta.SenderID, conv)
	if err != nil {
		return nil, nil, err
	}
	if ok && meta.Timestamp.Before(resetAt) {
		log.Debug("dropping message older than the peer's last reset")
		return nil, nil, ErrInvalidConversation
	}

	if meta.ConversationInvitation != nil {
		if err := s.acceptInvitationLocked(meta, conv, fp, log); err != nil {
			return nil, nil, err
		}
	} else {
		ok, err := s.crypto.ConversationExisting(meta.SenderID, conv)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			log.Debug("no conversation and no invitation")
			return nil, nil, ErrInvalidConversation
		}
	}

	plaintext, err := s.crypto.Decrypt(payload.Ciphertext, payload.EncryptedKey, meta.SenderID, conv)
	switch {
	case err == nil:
		if err := s.store.DeleteOutboundConversationInvitation(meta.SenderID, conv); err != nil {
			return nil, nil, fmt.Errorf("delete outbound invitation: %w", err)
		}
		return plaintext, nil, nil
	case errors.Is(err, session.ErrDiscardedObsoleteMessage):
		log.Debug("discarded obsolete message")
		return nil, nil, ErrObsoleteMessage
	case errors.Is(err, session.ErrConversationNotInitialized),
		errors.Is(err, session.ErrDecryptionError),
		errors.Is(err, session.ErrMaxSkipExceeded):
		log.WithError(err).Warn("conversation out of sync")
		return s.resyncLocked(ctx, meta, conv, fp, log)
	default:
		return nil, nil, err
	}
}

// acceptInvitationLocked decides whether the invitation attached to a message
// replaces the current session. It returns ErrInvalidConversation when the
// invitation must not be used.
func (s *Service) acceptInvitationLocked(
	meta domain.PayloadMetaInfo,
	conv domain.ConversationID,
	fp domain.Fingerprint,
	log *logrus.Entry,
) error {
	inv := *meta.ConversationInvitation

	inbound, ok, err := s.store.InboundConversationInvitation(meta.SenderID, conv)
	if err != nil {
		return err
	}
	if ok {
		if inbound.ConversationInvitation.Equal(inv) {
			return nil
		}
		if !meta.Timestamp.After(inbound.Timestamp) {
			log.Debug("invitation not newer than the last accepted one")
			return ErrInvalidConversation
		}
	}

	outbound, ok, err := s.store.OutboundConversationInvitation(meta.SenderID, conv)
	if err != nil {
		return err
	}
	if ok && !inboundWins(meta.Timestamp, inv, outbound) {
		log.Info("invitation race lost by peer, keeping ours")
		return ErrInvalidConversation
	}

	if err := s.crypto.ProcessConversationInvitation(inv, meta.SenderID, conv); err != nil {
		// Nothing is recorded, so a later copy is judged afresh. Decrypt
		// below fails on the old or missing session and triggers a reset.
		log.WithError(err).Warn("could not process invitation")
		return nil
	}

	err = s.store.StoreInboundConversationInvitation(domain.InboundConversationInvitation{
		SenderID:               meta.SenderID,
		ConversationID:         conv,
		Timestamp:              meta.Timestamp,
		ConversationInvitation: inv,
	})
	if err != nil {
		return fmt.Errorf("store inbound invitation: %w", err)
	}
	if err := s.store.DeleteInvalidConversation(meta.SenderID, conv, fp); err != nil {
		return fmt.Errorf("delete invalid conversation: %w", err)
	}
	// Our own pending handshake is superseded by the peer's.
	if err := s.store.DeleteOutboundConversationInvitation(meta.SenderID, conv); err != nil {
		return fmt.Errorf("delete outbound invitation: %w", err)
	}
	log.Info("adopted peer invitation")
	return nil
}

// inboundWins resolves simultaneous handshakes. The newer invitation wins;
// on equal timestamps the greater ephemeral key wins so both sides agree.
func inboundWins(ts time.Time, inv domain.ConversationInvitation, outbound domain.OutboundConversationInvitation) bool {
	switch {
	case ts.After(outbound.Timestamp):
		return true
	case ts.Before(outbound.Timestamp):
		return false
	default:
		return inv.Compare(outbound.ConversationInvitation) > 0
	}
}

// resyncLocked runs the check-then-act half of the reset protocol under the
// conversation lock. The reply itself is sent by the caller.
func (s *Service) resyncLocked(
	ctx context.Context,
	meta domain.PayloadMetaInfo,
	conv domain.ConversationID,
	fp domain.Fingerprint,
	log *logrus.Entry,
) ([]byte, *pendingReset, error) {
	rec, exists, err := s.store.InvalidConversation(meta.SenderID, conv, fp)
	if err != nil {
		return nil, nil, err
	}
	now := s.clock.Now()
	if exists && now.Before(rec.ResendResetTimeout) {
		log.WithField("resend_after", rec.ResendResetTimeout).Warn("reset suppressed")
		return nil, nil, ErrInvalidConversation
	}
	if s.resetReplier() == nil {
		return nil, nil, ErrNoResetReplier
	}

	if err := s.initLocked(ctx, meta.SenderID, conv); err != nil {
		return nil, nil, fmt.Errorf("reinitialise conversation: %w", err)
	}

	timeout := now.Add(s.resendResetTimeout)
	if exists {
		err = s.store.UpdateInvalidConversation(meta.SenderID, conv, fp, timeout)
	} else {
		err = s.store.StoreInvalidConversation(domain.InvalidConversation{
			SenderID:                meta.SenderID,
			ConversationID:          conv,
			ConversationFingerprint: fp,
			Timestamp:               now,
			ResendResetTimeout:      timeout,
		})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store invalid conversation: %w", err)
	}
	return nil, &pendingReset{fingerprint: fp, timestamp: now}, nil
}

// sendReset delivers the reset reply. If delivery fails the cooldown is
// cleared so the next failing message retries.
func (s *Service) sendReset(ctx context.Context, meta domain.PayloadMetaInfo, conv domain.ConversationID, r pendingReset) error {
	log := s.entry(meta.SenderID, conv).WithField("fingerprint", r.fingerprint)

	err := s.resetReplier().SendResetReply(
		ctx,
		meta.SenderID,
		meta.SenderServerSignedMembershipCertificate,
		meta.ReceiverServerSignedMembershipCertificate,
		meta.CollapseID,
	)
	if err != nil {
		log.WithError(err).Error("send reset reply")
		unlock := s.lock(meta.SenderID, conv)
		if uerr := s.store.UpdateInvalidConversation(meta.SenderID, conv, r.fingerprint, r.timestamp); uerr != nil {
			log.WithError(uerr).Error("clear reset cooldown")
		}
		unlock()
		return fmt.Errorf("%w: reset reply not sent: %v", ErrConversationHasBeenResynced, err)
	}
	log.Info("conversation reset sent")
	return ErrConversationHasBeenResynced
}

// Compile-time assertion that Service implements domain.ConversationManager.
var _ domain.ConversationManager = (*Service)(nil)
