package app

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/directory"
	"cipherkit/internal/domain"
	groupsvc "cipherkit/internal/services/group"
	"cipherkit/internal/services/identity"
	messagesvc "cipherkit/internal/services/message"
	prekeysvc "cipherkit/internal/services/prekey"
	sessionsvc "cipherkit/internal/services/session"
	"cipherkit/internal/store"
)

const stateDir = "state"

// Wire bundles the store, directory client and services of one device.
type Wire struct {
	Self         domain.Address
	DirectoryURL string
	Store        *store.Store
	Directory    domain.Directory // nil when offline
	Identity     *identity.Service
	PreKeys      *prekeysvc.Service
	Sessions     *sessionsvc.Service
	Groups       *groupsvc.Service
	Messages     *messagesvc.Service
}

// NewWire opens the store under cfg.Home and constructs the dependency
// graph.
func NewWire(cfg Config) (*Wire, error) {
	if err := identity.CheckPassphrase(cfg.Passphrase); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create %s", cfg.Home)
	}
	st, err := store.Open(filepath.Join(cfg.Home, stateDir), cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	url := cfg.DirectoryURL
	if url == "" {
		if p, ok, err := st.LoadAccountProfile(); err != nil {
			return nil, err
		} else if ok {
			url = p.DirectoryURL
		}
	}
	var dir domain.Directory
	if url != "" {
		c := directory.NewHTTP(url)
		if cfg.HTTP != nil {
			c.HTTP = cfg.HTTP
		}
		dir = c
	}
	cfg.DirectoryURL = url
	return Assemble(cfg, st, dir)
}

// Assemble builds the services over an already opened store and
// directory. dir may be nil for offline use. A zero cfg.Self is filled in
// from the stored account profile.
func Assemble(cfg Config, st *store.Store, dir domain.Directory) (*Wire, error) {
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	self := cfg.Self
	if self.IsZero() {
		p, ok, err := st.LoadAccountProfile()
		if err != nil {
			return nil, err
		}
		if ok {
			self = p.Address
		}
	}

	prekeys := prekeysvc.New(self, st, st, dir, prekeyConfig(cfg.Engine))
	w := &Wire{
		Self:         self,
		DirectoryURL: cfg.DirectoryURL,
		Store:        st,
		Directory:    dir,
		Identity:     identity.New(st),
		PreKeys:      prekeys,
	}
	w.Sessions = sessionsvc.New(self, st, st, prekeys, dir, sessionConfig(cfg.Engine))
	w.Groups = groupsvc.New(self, st, w.Sessions, groupLimits(cfg.Engine))
	w.Messages = messagesvc.New(self, w.Sessions, w.Groups, dir, prekeys)
	jww.DEBUG.Printf("app: wired %s (directory %q)", self, cfg.DirectoryURL)
	return w, nil
}
