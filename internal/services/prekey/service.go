package prekey

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pinpoint/internal/domain"
	"pinpoint/internal/util/logging"
)

// Renewer is the part of the crypto middleware that owns handshake keys.
type Renewer interface {
	RenewHandshakeKeyMaterial(signer domain.Signer) (domain.UserPublicKeys, error)
}

// Publisher uploads public key material to the backend.
type Publisher interface {
	PublishUserKeys(ctx context.Context, userID domain.UserID, keys domain.UserPublicKeys) error
}

// Service keeps the backend's copy of our handshake keys current.
type Service struct {
	self      domain.UserID
	renewer   Renewer
	publisher Publisher
	log       *logrus.Entry
}

// New returns a prekey service publishing on behalf of self.
func New(self domain.UserID, renewer Renewer, publisher Publisher, log *logrus.Entry) *Service {
	if log == nil {
		log = logging.For("prekey")
	}
	return &Service{self: self, renewer: renewer, publisher: publisher, log: log}
}

// Publish tops up the local key material and uploads its public halves.
func (s *Service) Publish(ctx context.Context, signer domain.Signer) (domain.UserPublicKeys, error) {
	keys, err := s.renewer.RenewHandshakeKeyMaterial(signer)
	if err != nil {
		return domain.UserPublicKeys{}, fmt.Errorf("renew handshake keys: %w", err)
	}
	if err := s.publisher.PublishUserKeys(ctx, s.self, keys); err != nil {
		return domain.UserPublicKeys{}, fmt.Errorf("publish keys: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"user_id":  s.self,
		"one_time":  len(keys.OneTimePrekeys),
	}).Info("published handshake keys")
	return keys, nil
}
