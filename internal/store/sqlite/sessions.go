package sqlite

import (
	"database/sql"
	"errors"

	"pinpoint/internal/domain"
)

func (s *Store) SaveConversationState(state domain.ConversationState) error {
	sealed, err := s.sealJSON(state.State)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO conversation_states (user_id, conversation_id, state) VALUES (?, ?, ?)`,
		state.UserID.String(), state.ConversationID.String(), sealed,
	)
	return err
}

func (s *Store) LoadConversationState(
	userID domain.UserID,
	conversationID domain.ConversationID,
) (domain.ConversationState, bool, error) {
	var sealed []byte
	err := s.db.QueryRow(
		`SELECT state FROM conversation_states WHERE user_id = ? AND conversation_id = ?`,
		userID.String(), conversationID.String(),
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConversationState{}, false, nil
	}
	if err != nil {
		return domain.ConversationState{}, false, err
	}
	out := domain.ConversationState{UserID: userID, ConversationID: conversationID}
	if err := s.openJSON(sealed, &out.State); err != nil {
		return domain.ConversationState{}, false, err
	}
	return out, true, nil
}

// MessageKeyCache returns the skipped-key cache scoped to one conversation.
func (s *Store) MessageKeyCache(userID domain.UserID, conversationID domain.ConversationID) domain.MessageKeyCache {
	return &messageKeyCache{store: s, userID: userID.String(), conversationID: conversationID.String()}
}

type messageKeyCache struct {
	store          *Store
	userID         string
	conversationID string
}

func (c *messageKeyCache) MessageKey(pub domain.X25519Public, n uint32) ([]byte, bool, error) {
	var sealed []byte
	err := c.store.db.QueryRow(
		`SELECT message_key FROM message_keys
		 WHERE user_id = ? AND conversation_id = ? AND public_key = ? AND message_number = ?`,
		c.userID, c.conversationID, pub.String(), int64(n),
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	key, err := c.store.open(sealed)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func (c *messageKeyCache) AddMessageKeys(keys []domain.SkippedMessageKey, maxEntries int) error {
	if len(keys) == 0 {
		return nil
	}
	sealed := make([][]byte, len(keys))
	for i, k := range keys {
		b, err := c.store.seal(k.Key)
		if err != nil {
			return err
		}
		sealed[i] = b
	}

	tx, err := c.store.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, k := range keys {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO message_keys
			 (user_id, conversation_id, public_key, message_number, message_key) VALUES (?, ?, ?, ?, ?)`,
			c.userID, c.conversationID, k.PublicKey.String(), int64(k.MessageNumber), sealed[i],
		); err != nil {
			return err
		}
	}
	if maxEntries >= 0 {
		if _, err := tx.Exec(
			`DELETE FROM message_keys WHERE user_id = ? AND conversation_id = ? AND seq NOT IN (
				SELECT seq FROM message_keys WHERE user_id = ? AND conversation_id = ?
				ORDER BY seq DESC LIMIT ?
			)`,
			c.userID, c.conversationID, c.userID, c.conversationID, maxEntries,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *messageKeyCache) DeleteMessageKey(pub domain.X25519Public, n uint32) error {
	_, err := c.store.db.Exec(
		`DELETE FROM message_keys
		 WHERE user_id = ? AND conversation_id = ? AND public_key = ? AND message_number = ?`,
		c.userID, c.conversationID, pub.String(), int64(n),
	)
	return err
}

func (c *messageKeyCache) Clear() error {
	_, err := c.store.db.Exec(
		`DELETE FROM message_keys WHERE user_id = ? AND conversation_id = ?`,
		c.userID, c.conversationID,
	)
	return err
}
