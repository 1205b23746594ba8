package store

import (
	"fmt"
	"time"

	"pinpoint/internal/domain"
)

// resyncState is the layout of resync.json.
type resyncState struct {
	Invalid        map[string]domain.InvalidConversation `json:"invalid"`
	ReceivedResets map[string]time.Time                  `json:"receivedResets"`
}

func (s *FileStore) readResync() (resyncState, error) {
	var r resyncState
	if err := s.readPlain(resyncFile, &r); err != nil {
		return resyncState{}, err
	}
	if r.Invalid == nil {
		r.Invalid = map[string]domain.InvalidConversation{}
	}
	if r.ReceivedResets == nil {
		r.ReceivedResets = map[string]time.Time{}
	}
	return r, nil
}

func (s *FileStore) writeResync(r resyncState) error {
	return s.writePlain(resyncFile, r)
}

// StoreInvalidConversation creates or replaces the record for its fingerprint.
func (s *FileStore) StoreInvalidConversation(rec domain.InvalidConversation) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	r, err := s.readResync()
	if err != nil {
		return err
	}
	r.Invalid[fingerprintKey(rec.SenderID, rec.ConversationID, rec.ConversationFingerprint)] = rec
	return s.writeResync(r)
}

// UpdateInvalidConversation moves the resend deadline of an existing record.
func (s *FileStore) UpdateInvalidConversation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	fp domain.Fingerprint,
	resendResetTimeout time.Time,
) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	r, err := s.readResync()
	if err != nil {
		return err
	}
	k := fingerprintKey(senderID, conversationID, fp)
	rec, ok := r.Invalid[k]
	if !ok {
		return fmt.Errorf("invalid conversation %s: not found", k)
	}
	rec.ResendResetTimeout = resendResetTimeout
	r.Invalid[k] = rec
	return s.writeResync(r)
}

func (s *FileStore) InvalidConversation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	fp domain.Fingerprint,
) (domain.InvalidConversation, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.InvalidConversation{}, false, err
	}
	defer unlock()

	r, err := s.readResync()
	if err != nil {
		return domain.InvalidConversation{}, false, err
	}
	rec, ok := r.Invalid[fingerprintKey(senderID, conversationID, fp)]
	return rec, ok, nil
}

func (s *FileStore) DeleteInvalidConversation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	fp domain.Fingerprint,
) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	r, err := s.readResync()
	if err != nil {
		return err
	}
	k := fingerprintKey(senderID, conversationID, fp)
	if _, ok := r.Invalid[k]; !ok {
		return nil
	}
	delete(r.Invalid, k)
	return s.writeResync(r)
}

// StoreReceivedReset records when a peer last reset the conversation.
func (s *FileStore) StoreReceivedReset(
	senderID domain.UserID,
	conversationID domain.ConversationID,
	timestamp time.Time,
) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	r, err := s.readResync()
	if err != nil {
		return err
	}
	r.ReceivedResets[conversationKey(senderID, conversationID)] = timestamp
	return s.writeResync(r)
}

func (s *FileStore) ReceivedReset(
	senderID domain.UserID,
	conversationID domain.ConversationID,
) (time.Time, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return time.Time{}, false, err
	}
	defer unlock()

	r, err := s.readResync()
	if err != nil {
		return time.Time{}, false, err
	}
	ts, ok := r.ReceivedResets[conversationKey(senderID, conversationID)]
	return ts, ok, nil
}
