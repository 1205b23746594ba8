package store

import "pinpoint/internal/domain"

// invitationFile is the layout of invitations.json.
type invitationFile struct {
	Outbound map[string]domain.OutboundConversationInvitation `json:"outbound"`
	Inbound  map[string]domain.InboundConversationInvitation  `json:"inbound"`
}

func (s *FileStore) readInvitations() (invitationFile, error) {
	var f invitationFile
	if err := s.readPlain(invitationsFile, &f); err != nil {
		return invitationFile{}, err
	}
	if f.Outbound == nil {
		f.Outbound = map[string]domain.OutboundConversationInvitation{}
	}
	if f.Inbound == nil {
		f.Inbound = map[string]domain.InboundConversationInvitation{}
	}
	return f, nil
}

func (s *FileStore) writeInvitations(f invitationFile) error {
	return s.writePlain(invitationsFile, f)
}

// StoreOutboundConversationInvitation records an invitation we sent,
// replacing any earlier one for the same receiver and conversation.
func (s *FileStore) StoreOutboundConversationInvitation(inv domain.OutboundConversationInvitation) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	f, err := s.readInvitations()
	if err != nil {
		return err
	}
	f.Outbound[conversationKey(inv.ReceiverID, inv.ConversationID)] = inv
	return s.writeInvitations(f)
}

func (s *FileStore) OutboundConversationInvitation(
	receiverID domain.UserID,
	conversationID domain.ConversationID,
) (domain.OutboundConversationInvitation, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.OutboundConversationInvitation{}, false, err
	}
	defer unlock()

	f, err := s.readInvitations()
	if err != nil {
		return domain.OutboundConversationInvitation{}, false, err
	}
	inv, ok := f.Outbound[conversationKey(receiverID, conversationID)]
	return inv, ok, nil
}

func (s *FileStore) DeleteOutboundConversationInvitation(
	receiverID domain.UserID,
	conversationID domain.ConversationID,
) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	f, err := s.readInvitations()
	if err != nil {
		return err
	}
	k := conversationKey(receiverID, conversationID)
	if _, ok := f.Outbound[k]; !ok {
		return nil
	}
	delete(f.Outbound, k)
	return s.writeInvitations(f)
}

// StoreInboundConversationInvitation records the invitation last accepted
// from a peer.
func (s *FileStore) StoreInboundConversationInvitation(inv domain.InboundConversationInvitation) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	f, err := s.readInvitations()
	if err != nil {
		return err
	}
	f.Inbound[conversationKey(inv.SenderID, inv.ConversationID)] = inv
	return s.writeInvitations(f)
}

func (s *FileStore) InboundConversationInvitation(
	senderID domain.UserID,
	conversationID domain.ConversationID,
) (domain.InboundConversationInvitation, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.InboundConversationInvitation{}, false, err
	}
	defer unlock()

	f, err := s.readInvitations()
	if err != nil {
		return domain.InboundConversationInvitation{}, false, err
	}
	inv, ok := f.Inbound[conversationKey(senderID, conversationID)]
	return inv, ok, nil
}
