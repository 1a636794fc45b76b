package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

// FromFile loads config from a specified file overriding defaults specified in
// the def parameter. If file does not exist or is empty defaults are assumed.
func FromFile(path string, def *Node) (*Node, error) {
	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return def, nil
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader, def *Node) (*Node, error) {
	cfg := *def
	md, err := toml.NewDecoder(reader).Decode(&cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, xerrors.Errorf("unknown config keys: %v", undecoded)
	}

	return &cfg, nil
}

// ConfigComment encodes the config with every value commented out, so that a
// fresh config file documents the defaults without pinning them.
func ConfigComment(t interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(t); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = bytes.ReplaceAll(b, []byte("\n"), []byte("\n#"))
	b = bytes.ReplaceAll(b, []byte("#["), []byte("["))
	return b, nil
}

var participantRe = regexp.MustCompile(`^[A-Za-z0-9._:@-]+$`)

// Validate checks the settings that cannot be defaulted
func (n *Node) Validate() error {
	var err error

	if !participantRe.MatchString(n.ParticipantID) {
		err = multierr.Append(err, xerrors.Errorf("invalid participant id %q", n.ParticipantID))
	}

	switch n.Negotiation.Roles {
	case RoleConsumer, RoleProvider, RoleBoth:
	default:
		err = multierr.Append(err, xerrors.Errorf("unknown negotiation roles %q", n.Negotiation.Roles))
	}
	if n.Negotiation.TickInterval <= 0 {
		err = multierr.Append(err, xerrors.New("negotiation tick interval must be positive"))
	}
	if n.Negotiation.Retry.MinBackoff > n.Negotiation.Retry.MaxBackoff {
		err = multierr.Append(err, xerrors.New("retry min backoff exceeds max backoff"))
	}

	if n.Negotiation.DispatchTimeout >= n.Store.LeaseDuration {
		err = multierr.Append(err, xerrors.Errorf("dispatch timeout %s must be shorter than the store lease duration %s",
			time.Duration(n.Negotiation.DispatchTimeout), time.Duration(n.Store.LeaseDuration)))
	}

	switch n.Store.Backend {
	case BackendMemory, BackendLevelDB, BackendBadger, BackendSQLite:
	default:
		err = multierr.Append(err, xerrors.Errorf("unknown store backend %q", n.Store.Backend))
	}

	if u, perr := url.Parse(n.Transport.PublicURL); perr != nil || u.Scheme == "" || u.Host == "" {
		err = multierr.Append(err, xerrors.Errorf("invalid transport public url %q", n.Transport.PublicURL))
	}

	return err
}

// HasRole reports whether the node runs the given negotiation role
func (n *Node) HasRole(role string) bool {
	return n.Negotiation.Roles == RoleBoth || n.Negotiation.Roles == role
}

func (n *Node) String() string {
	return fmt.Sprintf("%s (%s)", n.ParticipantID, n.Negotiation.Roles)
}
