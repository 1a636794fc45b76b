package repo

import (
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/node/config"
)

var (
	ErrNoAPIEndpoint     = xerrors.New("no API Endpoint set")
	ErrRepoAlreadyLocked = xerrors.New("repo is already locked")
	ErrClosedRepo        = xerrors.New("repo is no longer open")
	ErrRepoExists        = xerrors.New("repo exists")
	ErrNoTokenSecret     = xerrors.New("no token secret in keystore")
	ErrNoAPIToken        = xerrors.New("API token not set")
)

type Repo interface {
	// APIEndpoint returns the address of the management API of a running node
	APIEndpoint() (string, error)

	// APIToken returns the admin token of a running node
	APIToken() ([]byte, error)

	// Lock locks the repo for exclusive use.
	Lock() (LockedRepo, error)
}

type LockedRepo interface {
	// Close closes repo and removes lock.
	Close() error

	// Path returns the repo root
	Path() string

	// Join resolves paths inside the repo
	Join(paths ...string) string

	// Returns config in this repo
	Config() (*config.Node, error)

	// TokenSecret returns the secret peer tokens are signed with
	TokenSecret() ([]byte, error)

	// APISecret returns the secret management API tokens are signed with
	APISecret() ([]byte, error)

	// SetAPIEndpoint records where the management API listens
	SetAPIEndpoint(addr string) error

	// SetAPIToken records the admin token local clients connect with
	SetAPIToken(token []byte) error
}
