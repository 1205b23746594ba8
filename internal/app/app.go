package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"pinpoint/internal/domain"
	"pinpoint/internal/keychain"
	"pinpoint/internal/relay"
	"pinpoint/internal/services/conversation"
	"pinpoint/internal/services/identity"
	"pinpoint/internal/services/message"
	"pinpoint/internal/services/prekey"
	"pinpoint/internal/services/session"
	"pinpoint/internal/store"
	"pinpoint/internal/store/sqlite"
	"pinpoint/internal/util/logging"
)

var (
	// ErrPassphraseRequired is returned when the storage passphrase is unset.
	ErrPassphraseRequired = errors.New("passphrase required (-p or " + EnvPassphrase + ")")
	// ErrUserRequired is returned when no local user id is configured.
	ErrUserRequired = errors.New("user required (--user or " + EnvUser + ")")
	// ErrRelayRequired is returned when no relay URL is configured.
	ErrRelayRequired = errors.New("no relay configured (--relay or " + EnvRelayURL + ")")
)

// App bundles the wired services for the CLI.
type App struct {
	Config Config
	Self   domain.UserID

	Store         domain.Storage
	Relay         *relay.HTTP
	Keychain      *keychain.Keychain
	Session       *session.Service
	Conversations *conversation.Service
	Messages      *message.Service
	Prekeys       *prekey.Service

	log *logrus.Entry
}

// OpenStorage derives the storage key from the passphrase and opens the
// configured persistence engine under cfg.Home.
func OpenStorage(cfg Config) (domain.Storage, error) {
	if cfg.Passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	key, err := store.StorageKey(cfg.Home, cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Storage.Driver) {
	case DriverSQLite:
		return sqlite.Open(filepath.Join(cfg.Home, "pinpoint.db"), key)
	case DriverFile, "":
		return store.NewFileStore(filepath.Join(cfg.Home, "store"), key)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Open wires the full dependency graph for cfg.
func Open(cfg Config) (*App, error) {
	if cfg.User == "" {
		return nil, ErrUserRequired
	}
	if cfg.Relay.URL == "" {
		return nil, ErrRelayRequired
	}
	st, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	return wire(cfg, st, relay.NewHTTP(cfg.Relay.URL, cfg.Relay.Timeout)), nil
}

func wire(cfg Config, st domain.Storage, rc *relay.HTTP) *App {
	self := domain.UserID(cfg.User)

	mw := session.New(st, cfg.SessionConfig(), logging.For("session"))
	conversations := conversation.New(mw, st, rc, conversation.Options{
		ResendResetTimeout: cfg.Conversation.ResendResetTimeout,
		Log:                logging.For("conversation"),
	})
	messages := message.New(self, conversations, rc, message.Options{Log: logging.For("message")})
	conversations.SetResetReplier(messages)

	return &App{
		Config:        cfg,
		Self:          self,
		Store:         st,
		Relay:         rc,
		Keychain:      keychain.New(keychain.DefaultService),
		Session:       mw,
		Conversations: conversations,
		Messages:      messages,
		Prekeys:       prekey.New(self, mw, rc, logging.For("prekey")),
		log:           logging.For("app"),
	}
}

// Identity loads the signing key from the keychain.
func (a *App) Identity() (*identity.Service, error) {
	key, err := a.Keychain.Load(a.Self)
	if errors.Is(err, keychain.ErrNotFound) {
		return nil, fmt.Errorf("no signing key for %s, run init first: %w", a.Self, err)
	}
	if err != nil {
		return nil, err
	}
	return identity.New(key, a.Store), nil
}

// Close releases the store.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		a.log.WithError(err).Error("close store")
		return err
	}
	return nil
}
