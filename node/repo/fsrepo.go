package repo

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	fslock "github.com/ipfs/go-fs-lock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/node/config"
)

const (
	fsAPI       = "api"
	fsAPIToken  = "token"
	fsConfig    = "config.toml"
	fsDatastore = "datastore"
	fsLock      = "repo.lock"
	fsKeystore  = "keystore"

	tokenSecretName = "token-secret"
	apiSecretName   = "api-secret"
	secretSize      = 32
)

var log = logging.Logger("repo")

// FsRepo is a struct for repo, use NewFS to create
type FsRepo struct {
	path       string
	configPath string
}

var _ Repo = &FsRepo{}

// NewFS creates a repo instance based on a path on file system
func NewFS(path string) (*FsRepo, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	return &FsRepo{
		path:       path,
		configPath: filepath.Join(path, fsConfig),
	}, nil
}

func (fsr *FsRepo) SetConfigPath(cfgPath string) {
	fsr.configPath = cfgPath
}

func (fsr *FsRepo) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(fsr.path, fsKeystore))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Init creates the repo layout, a config naming participantID and the token
// secret. A nil secret generates a random one.
func (fsr *FsRepo) Init(participantID string, secret []byte) error {
	exist, err := fsr.Exists()
	if err != nil {
		return err
	}
	if exist {
		return ErrRepoExists
	}

	log.Infof("Initializing repo at '%s'", fsr.path)
	err = os.MkdirAll(fsr.path, 0755) //nolint: gosec
	if err != nil && !os.IsExist(err) {
		return err
	}

	if err := fsr.initConfig(participantID); err != nil {
		return xerrors.Errorf("init config: %w", err)
	}

	return fsr.initKeystore(secret)
}

func (fsr *FsRepo) initConfig(participantID string) error {
	_, err := os.Stat(fsr.configPath)
	if err == nil {
		// exists
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	c, err := os.Create(fsr.configPath)
	if err != nil {
		return err
	}

	comm, err := config.ConfigComment(config.DefaultNode())
	if err != nil {
		return xerrors.Errorf("comment: %w", err)
	}
	_, err = fmt.Fprintf(c, "ParticipantID = %q\n\n%s", participantID, comm)
	if err != nil {
		return xerrors.Errorf("write config: %w", err)
	}

	if err := c.Close(); err != nil {
		return xerrors.Errorf("close config: %w", err)
	}
	return nil
}

func (fsr *FsRepo) initKeystore(secret []byte) error {
	kstorePath := filepath.Join(fsr.path, fsKeystore)
	if err := os.Mkdir(kstorePath, 0700); err != nil {
		return err
	}

	if secret == nil {
		var err error
		if secret, err = randomSecret(); err != nil {
			return xerrors.Errorf("generating token secret: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(kstorePath, tokenSecretName), secret, 0600); err != nil {
		return err
	}

	apiSecret, err := randomSecret()
	if err != nil {
		return xerrors.Errorf("generating api secret: %w", err)
	}
	return os.WriteFile(filepath.Join(kstorePath, apiSecretName), apiSecret, 0600)
}

func randomSecret() ([]byte, error) {
	b := make([]byte, secretSize)
	_, err := io.ReadFull(rand.Reader, b)
	return b, err
}

// APIEndpoint returns endpoint of API in this repo
func (fsr *FsRepo) APIEndpoint() (string, error) {
	b, err := os.ReadFile(filepath.Join(fsr.path, fsAPI))
	if os.IsNotExist(err) {
		return "", ErrNoAPIEndpoint
	} else if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// APIToken returns the token written by a running node
func (fsr *FsRepo) APIToken() ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(fsr.path, fsAPIToken))
	if os.IsNotExist(err) {
		return nil, ErrNoAPIToken
	} else if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(b), nil
}

// Config reads the config without locking the repo
func (fsr *FsRepo) Config() (*config.Node, error) {
	return config.FromFile(fsr.configPath, config.DefaultNode())
}

// Lock acquires exclusive lock on this repo
func (fsr *FsRepo) Lock() (LockedRepo, error) {
	locked, err := fslock.Locked(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not check lock status: %w", err)
	}
	if locked {
		return nil, ErrRepoAlreadyLocked
	}

	closer, err := fslock.Lock(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not lock the repo: %w", err)
	}
	return &fsLockedRepo{
		path:       fsr.path,
		configPath: fsr.configPath,
		closer:     closer,
	}, nil
}

type fsLockedRepo struct {
	path       string
	configPath string
	closer     io.Closer

	configLk sync.Mutex
	cfg      *config.Node
}

func (fsr *fsLockedRepo) Path() string {
	return fsr.path
}

func (fsr *fsLockedRepo) Join(paths ...string) string {
	return filepath.Join(append([]string{fsr.path}, paths...)...)
}

func (fsr *fsLockedRepo) Close() error {
	for _, f := range []string{fsAPI, fsAPIToken} {
		err := os.Remove(fsr.Join(f))
		if err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("could not remove %s file: %w", f, err)
		}
	}

	err := fsr.closer.Close()
	fsr.closer = nil
	return err
}

func (fsr *fsLockedRepo) stillValid() error {
	if fsr.closer == nil {
		return ErrClosedRepo
	}
	return nil
}

func (fsr *fsLockedRepo) Config() (*config.Node, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}

	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	if fsr.cfg == nil {
		cfg, err := config.FromFile(fsr.configPath, config.DefaultNode())
		if err != nil {
			return nil, xerrors.Errorf("loading config: %w", err)
		}
		fsr.cfg = cfg
	}
	return fsr.cfg, nil
}

func (fsr *fsLockedRepo) TokenSecret() ([]byte, error) {
	return fsr.readKey(tokenSecretName)
}

func (fsr *fsLockedRepo) APISecret() ([]byte, error) {
	return fsr.readKey(apiSecretName)
}

func (fsr *fsLockedRepo) readKey(name string) ([]byte, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(fsr.Join(fsKeystore, name))
	if os.IsNotExist(err) {
		return nil, xerrors.Errorf("%s: %w", name, ErrNoTokenSecret)
	}
	return b, err
}

func (fsr *fsLockedRepo) SetAPIEndpoint(addr string) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}
	return os.WriteFile(fsr.Join(fsAPI), []byte(addr), 0644)
}

func (fsr *fsLockedRepo) SetAPIToken(token []byte) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}
	return os.WriteFile(fsr.Join(fsAPIToken), token, 0600)
}

// DatastorePath is where datastore backends keep their files
func DatastorePath(lr LockedRepo, backend string) string {
	return lr.Join(fsDatastore, backend)
}
