package store

import (
	"pinpoint/internal/domain"
	"pinpoint/internal/util/memzero"
)

// messageKeys maps a conversation key to its cached keys, oldest first.
type messageKeys map[string][]domain.SkippedMessageKey

// MessageKeyCache returns the skipped-key cache scoped to one conversation.
func (s *FileStore) MessageKeyCache(userID domain.UserID, conversationID domain.ConversationID) domain.MessageKeyCache {
	return &messageKeyCache{store: s, key: conversationKey(userID, conversationID)}
}

type messageKeyCache struct {
	store *FileStore
	key   string
}

func (c *messageKeyCache) MessageKey(pub domain.X25519Public, n uint32) ([]byte, bool, error) {
	unlock, err := c.store.lock()
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	all := messageKeys{}
	if err := c.store.readSealed(messageKeysFile, &all); err != nil {
		return nil, false, err
	}
	for _, k := range all[c.key] {
		if k.PublicKey == pub && k.MessageNumber == n {
			return append([]byte(nil), k.Key...), true, nil
		}
	}
	return nil, false, nil
}

// AddMessageKeys appends keys and evicts the oldest beyond maxEntries.
func (c *messageKeyCache) AddMessageKeys(keys []domain.SkippedMessageKey, maxEntries int) error {
	if len(keys) == 0 {
		return nil
	}
	unlock, err := c.store.lock()
	if err != nil {
		return err
	}
	defer unlock()

	all := messageKeys{}
	if err := c.store.readSealed(messageKeysFile, &all); err != nil {
		return err
	}
	list := append(all[c.key], keys...)
	if maxEntries >= 0 && len(list) > maxEntries {
		list = list[len(list)-maxEntries:]
	}
	all[c.key] = list
	return c.store.writeSealed(messageKeysFile, all)
}

func (c *messageKeyCache) DeleteMessageKey(pub domain.X25519Public, n uint32) error {
	unlock, err := c.store.lock()
	if err != nil {
		return err
	}
	defer unlock()

	all := messageKeys{}
	if err := c.store.readSealed(messageKeysFile, &all); err != nil {
		return err
	}
	list := all[c.key]
	for i, k := range list {
		if k.PublicKey == pub && k.MessageNumber == n {
			all[c.key] = append(list[:i:i], list[i+1:]...)
			if len(all[c.key]) == 0 {
				delete(all, c.key)
			}
			return c.store.writeSealed(messageKeysFile, all)
		}
	}
	return nil
}

// Clear removes and wipes every key cached for the conversation.
func (c *messageKeyCache) Clear() error {
	unlock, err := c.store.lock()
	if err != nil {
		return err
	}
	defer unlock()

	all := messageKeys{}
	if err := c.store.readSealed(messageKeysFile, &all); err != nil {
		return err
	}
	list, ok := all[c.key]
	if !ok {
		return nil
	}
	for _, k := range list {
		memzero.Zero(k.Key)
	}
	delete(all, c.key)
	return c.store.writeSealed(messageKeysFile, all)
}
