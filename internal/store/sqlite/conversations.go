package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pinpoint/internal/domain"
)

func (s *Store) StoreOutboundConversationInvitation(inv domain.OutboundConversationInvitation) error {
	body, err := json.Marshal(inv.ConversationInvitation)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO outbound_invitations (receiver_id, conversation_id, timestamp, invitation)
		 VALUES (?, ?, ?, ?)`,
		inv.ReceiverID.String(), inv.ConversationID.String(), toUnix(inv.Timestamp), string(body),
	)
	return err
}

func (s *Store) OutboundConversationInvitation(
	receiverID domain.UserID,
	conversationID domain.ConversationID,
) (domain.OutboundConversationInvitation, bool, error) {
	var (
		ts   int64
		body string
	)
	err := s.db.QueryRow(
		`SELECT timestamp, invitation FROM outbound_invitations WHERE receiver_id = ? AND conversation_id = ?`,
		receiverID.String(), conversationID.String(),
	).Scan(&ts, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OutboundConversationInvitation{}, false, nil
	}
	if err != nil {
		return domain.OutboundConversationInvitation{}, false, err
	}
	out := domain.OutboundConversationInvitation{ReceiverID: receiverID, ConversationID: conversationID, Timestamp: fromUnix(ts)}
	if err := json.Unmarshal([]byte(body), &out.ConversationInvitation); err != nil {
		return domain.OutboundConversationInvitation{}, false, err
	}
	return out, true, nil
}

func (s *Store) DeleteOutboundConversationInvitation(receiverID domain.UserID, conversationID domain.ConversationID) error {
	_, err := s.db.Exec(
		`DELETE FROM outbound_invitations WHERE receiver_id = ? AND conversation_id = ?`,
		receiverID.String(), conversationID.String(),
	)
	return err
}

func (s *Store) StoreInboundConversationInvitation(inv domain.InboundConversationInvitation) error {
	body, err := json.Marshal(inv.ConversationInvitation)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO inbound_invitations (sender_id, conversation_id, timestamp, invitation)
		 VALUES (?, ?, ?, ?)`,
		inv.SenderID.String(), inv.ConversationID.String(), toUnix(inv.Timestamp), string(body),
	)
	return err
}

func (s *Store) InboundConversationInvitation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
) (domain.InboundConversationInvitation, bool, error) {
	var (
		ts   int64
		body string
	)
	err := s.db.QueryRow(
		`SELECT timestamp, invitation FROM inbound_invitations WHERE sender_id = ? AND conversation_id = ?`,
		senderID.String(), conversationID.String(),
	).Scan(&ts, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InboundConversationInvitation{}, false, nil
	}
	if err != nil {
		return domain.InboundConversationInvitation{}, false, err
	}
	out := domain.InboundConversationInvitation{SenderID: senderID, ConversationID: conversationID, Timestamp: fromUnix(ts)}
	if err := json.Unmarshal([]byte(body), &out.ConversationInvitation); err != nil {
		return domain.InboundConversationInvitation{}, false, err
	}
	return out, true, nil
}

func (s *Store) StoreInvalidConversation(rec domain.InvalidConversation) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO invalid_conversations
		 (sender_id, conversation_id, fingerprint, timestamp, resend_reset_timeout) VALUES (?, ?, ?, ?, ?)`,
		rec.SenderID.String(), rec.ConversationID.String(), rec.ConversationFingerprint.String(),
		toUnix(rec.Timestamp), toUnix(rec.ResendResetTimeout),
	)
	return err
}

func (s *Store) UpdateInvalidConversation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	fp domain.Fingerprint,
	resendResetTimeout time.Time,
) error {
	res, err := s.db.Exec(
		`UPDATE invalid_conversations SET resend_reset_timeout = ?
		 WHERE sender_id = ? AND conversation_id = ? AND fingerprint = ?`,
		toUnix(resendResetTimeout), senderID.String(), conversationID.String(), fp.String(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("invalid conversation %s/%s/%s: not found", senderID, conversationID, fp)
	}
	return nil
}

func (s *Store) InvalidConversation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	fp domain.Fingerprint,
) (domain.InvalidConversation, bool, error) {
	var ts, timeout int64
	err := s.db.QueryRow(
		`SELECT timestamp, resend_reset_timeout FROM invalid_conversations
		 WHERE sender_id = ? AND conversation_id = ? AND fingerprint = ?`,
		senderID.String(), conversationID.String(), fp.String(),
	).Scan(&ts, &timeout)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InvalidConversation{}, false, nil
	}
	if err != nil {
		return domain.InvalidConversation{}, false, err
	}
	return domain.InvalidConversation{
		SenderID:                senderID,
		ConversationID:          conversationID,
		ConversationFingerprint: fp,
		Timestamp:               fromUnix(ts),
		ResendResetTimeout:      fromUnix(timeout),
	}, true, nil
}

func (s *Store) DeleteInvalidConversation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	fp domain.Fingerprint,
) error {
	_, err := s.db.Exec(
		`DELETE FROM invalid_conversations WHERE sender_id = ? AND conversation_id = ? AND fingerprint = ?`,
		senderID.String(), conversationID.String(), fp.String(),
	)
	return err
}

func (s *Store) StoreReceivedReset(senderID domain.UserID, conversationID domain.ConversationID, ts time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO received_resets (sender_id, conversation_id, timestamp) VALUES (?, ?, ?)`,
		senderID.String(), conversationID.String(), toUnix(ts),
	)
	return err
}

func (s *Store) ReceivedReset(senderID domain.UserID, conversationID domain.ConversationID) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRow(
		`SELECT timestamp FROM received_resets WHERE sender_id = ? AND conversation_id = ?`,
		senderID.String(), conversationID.String(),
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return fromUnix(ts), true, nil
}
