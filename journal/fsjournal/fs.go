package fsjournal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/journal"
)

var log = logging.Logger("fsjournal")

const RFC3339nocolon = "2006-01-02T150405Z0700"

const (
	// CurrentFile is the journal file being written
	CurrentFile = "dataspace-journal.ndjson"
	rolledPrefix = "dataspace-journal-"
)

// fsJournal is a basic journal backed by files on a filesystem.
type fsJournal struct {
	journal.EventTypeRegistry

	dir       string
	sizeLimit int64
	keep      int
	clock     clock.Clock

	fi    *os.File
	fSize int64

	incoming chan *journal.Event

	closing chan struct{}
	closed  chan struct{}
}

// Option configures a filesystem journal
type Option func(*fsJournal)

// WithSizeLimit sets the size at which the current file is rolled
func WithSizeLimit(limit int64) Option {
	return func(f *fsJournal) {
		f.sizeLimit = limit
	}
}

// WithMaxBackups sets how many rolled files are kept; 0 keeps them all
func WithMaxBackups(keep int) Option {
	return func(f *fsJournal) {
		f.keep = keep
	}
}

// WithClock sets the clock used for timestamps and rolled file names
func WithClock(clk clock.Clock) Option {
	return func(f *fsJournal) {
		f.clock = clk
	}
}

// Dir returns the directory a journal under repoPath writes to
func Dir(repoPath string) (string, error) {
	path, err := homedir.Expand(repoPath)
	if err != nil {
		return "", xerrors.Errorf("failed to expand repo path: %w", err)
	}
	return filepath.Join(path, "journal"), nil
}

// OpenFSJournal opens a rolling journal in the journal directory of repoPath.
// Size limit and backups default to the environment settings.
func OpenFSJournal(repoPath string, disabled journal.DisabledEvents, opts ...Option) (journal.Journal, error) {
	dir, err := Dir(repoPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to mk directory %s for file journal: %w", dir, err)
	}

	f := &fsJournal{
		EventTypeRegistry: journal.NewEventTypeRegistry(disabled),
		dir:               dir,
		sizeLimit:         journal.EnvMaxSize,
		keep:              int(journal.EnvMaxBackups),
		clock:             clock.New(),
		incoming:          make(chan *journal.Event, 32),
		closing:           make(chan struct{}),
		closed:            make(chan struct{}),
	}
	for _, o := range opts {
		o(f)
	}

	if err := f.rollJournalFile(); err != nil {
		return nil, err
	}

	go f.runLoop()

	return f, nil
}

func (f *fsJournal) RecordEvent(evtType journal.EventType, supplier func() interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("recovered from panic while recording journal event; type=%s, err=%v", evtType, r)
		}
	}()

	if !evtType.Enabled() {
		return
	}

	je := &journal.Event{
		EventType: evtType,
		Timestamp: f.clock.Now(),
		Data:      supplier(),
	}
	select {
	case f.incoming <- je:
	case <-f.closing:
		log.Warnw("journal closed but tried to log event", "event", je)
	}
}

func (f *fsJournal) Close() error {
	close(f.closing)
	<-f.closed
	return nil
}

func (f *fsJournal) putEvent(evt *journal.Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	n, err := f.fi.Write(append(b, '\n'))
	if err != nil {
		return err
	}

	f.fSize += int64(n)

	if f.sizeLimit > 0 && f.fSize >= f.sizeLimit {
		if err := f.rollJournalFile(); err != nil {
			log.Errorw("rolling journal file", "err", err)
		}
	}

	return nil
}

func (f *fsJournal) rollJournalFile() error {
	if f.fi != nil {
		_ = f.fi.Close()
	}
	current := filepath.Join(f.dir, CurrentFile)
	rolled := filepath.Join(f.dir, rolledPrefix+f.clock.Now().Format(RFC3339nocolon)+".ndjson")

	// check if journal file exists
	if fi, err := os.Stat(current); err == nil && !fi.IsDir() && fi.Size() > 0 {
		err := os.Rename(current, rolled)
		if err != nil {
			return xerrors.Errorf("failed to roll journal file: %w", err)
		}
	}

	nfi, err := os.OpenFile(current, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return xerrors.Errorf("failed to create journal file: %w", err)
	}
	st, err := nfi.Stat()
	if err != nil {
		_ = nfi.Close()
		return xerrors.Errorf("failed to stat journal file: %w", err)
	}

	f.fi = nfi
	f.fSize = st.Size()

	return f.prune()
}

// prune removes the oldest rolled files beyond the number to keep
func (f *fsJournal) prune() error {
	if f.keep <= 0 {
		return nil
	}
	rolled, err := rolledFiles(f.dir)
	if err != nil {
		return err
	}
	for len(rolled) > f.keep {
		if err := os.Remove(filepath.Join(f.dir, rolled[0])); err != nil {
			return xerrors.Errorf("failed to prune journal file: %w", err)
		}
		rolled = rolled[1:]
	}
	return nil
}

// rolledFiles lists the rolled journal files in dir, oldest first
func rolledFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), rolledPrefix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fsJournal) runLoop() {
	defer close(f.closed)

	for {
		select {
		case je := <-f.incoming:
			if err := f.putEvent(je); err != nil {
				log.Errorw("failed to write out journal event", "event", je, "err", err)
			}
		case <-f.closing:
			for {
				select {
				case je := <-f.incoming:
					if err := f.putEvent(je); err != nil {
						log.Errorw("failed to write out journal event", "event", je, "err", err)
					}
				default:
					_ = f.fi.Close()
					return
				}
			}
		}
	}
}
