package store

import "pinpoint/internal/domain"

// SaveConversationState writes the ratchet state for (UserID, ConversationID).
func (s *FileStore) SaveConversationState(state domain.ConversationState) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	states := map[string]domain.ConversationState{}
	if err := s.readSealed(sessionsFile, &states); err != nil {
		return err
	}
	states[conversationKey(state.UserID, state.ConversationID)] = state
	return s.writeSealed(sessionsFile, states)
}

// LoadConversationState returns the stored ratchet state, if any.
func (s *FileStore) LoadConversationState(
	userID domain.UserID,
	conversationID domain.ConversationID,
) (domain.ConversationState, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.ConversationState{}, false, err
	}
	defer unlock()

	states := map[string]domain.ConversationState{}
	if err := s.readSealed(sessionsFile, &states); err != nil {
		return domain.ConversationState{}, false, err
	}
	st, ok := states[conversationKey(userID, conversationID)]
	return st, ok, nil
}
