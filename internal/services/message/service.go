package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/services/conversation"
	"pinpoint/internal/util/clock"
	"pinpoint/internal/util/logging"
	"pinpoint/internal/util/memzero"
)

// ErrNoRecipients is returned by SendPayload for an empty recipient list.
var ErrNoRecipients = errors.New("message: no recipients")

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	// Certificate is our server-signed membership certificate, forwarded
	// opaquely on every envelope when set.
	Certificate *domain.Certificate
	Clock       clock.Clock
	Log         *logrus.Entry
}

// Service sends and receives payloads over the relay.
//
// High-level flow:
//   - Send: seal the payload once under a fresh content key, wrap that key
//     per recipient through the conversation manager, attach any pending
//     invitation and post one envelope per recipient.
//   - Receive: fetch envelopes, hand each to the conversation manager,
//     dispatch reset control messages, then ack what was handled.
type Service struct {
	self          domain.UserID
	conversations domain.ConversationManager
	relay         domain.RelayClient

	cert  *domain.Certificate
	clock clock.Clock
	log   *logrus.Entry
}

// New constructs a message Service acting as self.
func New(
	self domain.UserID,
	conversations domain.ConversationManager,
	relay domain.RelayClient,
	opts Options,
) *Service {
	s := &Service{
		self:          self,
		conversations: conversations,
		relay:         relay,
		cert:          opts.Certificate,
		clock:         opts.Clock,
		log:           opts.Log,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.log == nil {
		s.log = logging.For("message")
	}
	return s
}

// SendText is a convenience wrapper sending a TextMessage payload.
func (s *Service) SendText(ctx context.Context, recipients []domain.UserID, text string, collapseID *domain.CollapseID) error {
	body, err := json.Marshal(domain.TextMessage{Text: text})
	if err != nil {
		return err
	}
	return s.SendPayload(ctx, recipients, domain.PayloadContainer{
		PayloadType: domain.PayloadTypeTextMessage,
		Payload:     body,
	}, collapseID)
}

// SendPayload encrypts payload once and posts it to every recipient. A
// non-nil collapseID routes it over the collapsing conversation. Delivery
// continues past failing recipients; their errors are joined.
func (s *Service) SendPayload(
	ctx context.Context,
	recipients []domain.UserID,
	payload domain.PayloadContainer,
	collapseID *domain.CollapseID,
) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	contentKey, err := crypto.GenerateContentKey()
	if err != nil {
		return err
	}
	defer memzero.Zero(contentKey)

	ciphertext, err := crypto.SealPayload(contentKey, raw)
	if err != nil {
		return err
	}

	var errs []error
	for _, to := range recipients {
		if err := s.sendTo(ctx, to, ciphertext, contentKey, collapseID, s.cert, nil); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// SendResetReply tells userID that we reset our side of the conversation. The
// reset travels with the fresh invitation minted by the reset.
func (s *Service) SendResetReply(
	ctx context.Context,
	userID domain.UserID,
	receiverCertificate *domain.Certificate,
	senderCertificate *domain.Certificate,
	collapseID *domain.CollapseID,
) error {
	body, err := json.Marshal(domain.ResetConversation{})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(domain.PayloadContainer{PayloadType: domain.PayloadTypeResetConversation, Payload: body})
	if err != nil {
		return err
	}
	contentKey, err := crypto.GenerateContentKey()
	if err != nil {
		return err
	}
	defer memzero.Zero(contentKey)

	ciphertext, err := crypto.SealPayload(contentKey, raw)
	if err != nil {
		return err
	}
	if senderCertificate == nil {
		senderCertificate = s.cert
	}
	return s.sendTo(ctx, userID, ciphertext, contentKey, collapseID, senderCertificate, receiverCertificate)
}

func (s *Service) sendTo(
	ctx context.Context,
	to domain.UserID,
	ciphertext, contentKey []byte,
	collapseID *domain.CollapseID,
	senderCert, receiverCert *domain.Certificate,
) error {
	collapsing := collapseID != nil

	wrapped, err := s.conversations.Encrypt(ctx, contentKey, to, collapsing)
	if err != nil {
		return err
	}
	// Read after Encrypt, which may just have started the conversation.
	invitation, err := s.conversations.ConversationInvitation(to, collapsing)
	if err != nil {
		return err
	}

	env := domain.Envelope{
		ID:                                        uuid.New(),
		SenderID:                                  s.self,
		ReceiverID:                                to,
		Timestamp:                                 s.clock.Now(),
		CollapseID:                                collapseID,
		SenderServerSignedMembershipCertificate:   senderCert,
		ReceiverServerSignedMembershipCertificate: receiverCert,
		PayloadContainer: domain.EncryptedPayloadContainer{
			Ciphertext:   ciphertext,
			EncryptedKey: wrapped,
		},
		ConversationInvitation: invitation,
	}
	if err := s.relay.SendEnvelope(ctx, env); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"user_id":     to,
		"envelope_id": env.ID,
		"invitation":  invitation != nil,
	}).Debug("envelope sent")
	return nil
}

// ReceiveMessages fetches up to limit envelopes and decrypts them in order.
//
// Messages the conversation manager rejects for good (obsolete, untrusted,
// resynchronised or undecodable) are logged and acknowledged. Any other
// failure stops processing; envelopes from that point stay queued. Only
// handled envelopes are acked.
func (s *Service) ReceiveMessages(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	envs, err := s.relay.FetchEnvelopes(ctx, s.self, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DecryptedMessage, 0, len(envs))
	processed := 0

	var loopErr error
	for i, env := range envs {
		msg, ok, err := s.handle(ctx, env)
		if err != nil {
			loopErr = fmt.Errorf("envelope %s from %s: %w", env.ID, env.SenderID, err)
			break
		}
		if ok {
			out = append(out, msg)
		}
		processed = i + 1
	}

	// Ack only what we processed. If zero, do nothing.
	if processed > 0 {
		if err := s.relay.AckEnvelopes(ctx, s.self, processed); err != nil {
			return out, errors.Join(loopErr, fmt.Errorf("ack %d envelopes: %w", processed, err))
		}
	}
	return out, loopErr
}

// handle returns the user-visible message for env, if it has one. A nil
// error means env is done with and may be acked.
func (s *Service) handle(ctx context.Context, env domain.Envelope) (domain.DecryptedMessage, bool, error) {
	meta := env.MetaInfo()
	log := s.log.WithFields(logrus.Fields{"user_id": env.SenderID, "envelope_id": env.ID})

	pc, err := s.conversations.Decrypt(ctx, env.PayloadContainer, meta)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrObsoleteMessage),
		errors.Is(err, conversation.ErrInvalidConversation),
		errors.Is(err, conversation.ErrConversationHasBeenResynced),
		errors.Is(err, conversation.ErrInvalidPayload):
		log.WithError(err).Warn("message dropped")
		return domain.DecryptedMessage{}, false, nil
	default:
		return domain.DecryptedMessage{}, false, err
	}

	switch pc.PayloadType {
	case domain.PayloadTypeResetConversation:
		if err := s.conversations.HandleConversationResync(meta); err != nil {
			return domain.DecryptedMessage{}, false, err
		}
		return domain.DecryptedMessage{}, false, nil
	default:
		return domain.DecryptedMessage{MetaInfo: meta, Payload: pc}, true, nil
	}
}

// Compile-time assertions.
var (
	_ domain.MessageService = (*Service)(nil)
	_ domain.ResetReplier   = (*Service)(nil)
)
