package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/starford/gpahub/internal/checksum"
	"github.com/starford/gpahub/internal/ingest"
)

// ledgerFile records the checksum of every gradesheet already ingested.
const ledgerFile = ".gpahub-ledger.json"

// Ingester consumes one gradesheet. *resultservice.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, r io.Reader, program, regulation string) (*ingest.Summary, error)
}

// ProcessedFunc is called after every ingest attempt made by the inbox.
type ProcessedFunc func(f File, sum *ingest.Summary, err error)

// Inbox feeds new or changed gradesheets to an Ingester.
type Inbox struct {
	fs          *FS
	ingester    Ingester
	archiveDir  string
	debounce    time.Duration
	logger      *slog.Logger
	onProcessed ProcessedFunc

	mu     sync.Mutex
	ledger map[string]string
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithArchiveDir moves ingested files under dir, relative to the inbox root.
// The directory name should start with "_" or "." so it is not rescanned.
func WithArchiveDir(dir string) Option {
	return func(in *Inbox) { in.archiveDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(in *Inbox) {
		if logger != nil {
			in.logger = logger
		}
	}
}

func WithProcessedFunc(fn ProcessedFunc) Option {
	return func(in *Inbox) { in.onProcessed = fn }
}

// WithDebounce sets how long a file must stay quiet before the watcher ingests it.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// New loads the ledger from the inbox root.
func New(fsys *FS, ingester Ingester, opts ...Option) (*Inbox, error) {
	in := &Inbox{
		fs:       fsys,
		ingester: ingester,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		ledger:   map[string]string{},
	}
	for _, o := range opts {
		o(in)
	}

	data, err := fsys.Read(ledgerFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &in.ledger); err != nil {
			in.logger.Warn("inbox: ledger unreadable, starting fresh", slog.String("error", err.Error()))
			in.ledger = map[string]string{}
		}
	}
	return in, nil
}

// FS returns the inbox file provider.
func (in *Inbox) FS() *FS { return in.fs }

// Sync ingests every gradesheet whose checksum differs from the ledger.
func (in *Inbox) Sync(ctx context.Context) error {
	files, err := in.fs.List()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if in.seen(f.Path, f.Checksum) {
			continue
		}
		in.process(ctx, f.Path)
	}
	return nil
}

// Processed reports whether the file at path was ingested with content checksum.
func (in *Inbox) Processed(path, sum string) bool {
	return in.seen(path, sum)
}

func (in *Inbox) seen(path, sum string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ledger[path] == sum
}

// process reads and ingests one file. The checksum is taken from the bytes
// actually ingested, so a file rewritten mid-read is picked up again later.
func (in *Inbox) process(ctx context.Context, rel string) {
	program, regulation, ok := Classify(rel)
	if !ok {
		return
	}
	log := in.logger.With(slog.String("path", rel))

	data, err := in.fs.Read(rel)
	if err != nil {
		log.Warn("inbox: read failed", slog.String("error", err.Error()))
		return
	}
	f := File{Path: rel, Program: program, Regulation: regulation, Checksum: checksum.Sum(data), UpdatedAt: time.Now()}
	if in.seen(rel, f.Checksum) {
		return
	}

	sum, err := in.ingester.Ingest(ctx, bytes.NewReader(data), program, regulation)
	switch {
	case err != nil:
		log.Warn("inbox: ingest failed", slog.String("error", err.Error()))
	case sum.Success || sum.Operations == 0:
		// Nothing more can be gained from this content until it changes.
		in.record(rel, f.Checksum)
		log.Info("inbox: ingested", slog.String("run_id", sum.RunID), slog.Int("written", sum.Written))
		in.archive(log, rel)
	default:
		log.Warn("inbox: ingest incomplete, will retry on next change or sync",
			slog.Int("written", sum.Written), slog.Int("operations", sum.Operations))
	}

	if in.onProcessed != nil {
		in.onProcessed(f, sum, err)
	}
}

func (in *Inbox) record(rel, sum string) {
	in.mu.Lock()
	in.ledger[rel] = sum
	data, err := json.MarshalIndent(in.ledger, "", "  ")
	in.mu.Unlock()
	if err != nil {
		return
	}
	if err := in.fs.Write(ledgerFile, data); err != nil {
		in.logger.Warn("inbox: ledger write failed", slog.String("error", err.Error()))
	}
}

func (in *Inbox) archive(log *slog.Logger, rel string) {
	if in.archiveDir == "" {
		return
	}
	dst := filepath.Join(in.archiveDir, rel)
	if err := in.fs.Move(rel, dst); err != nil {
		log.Warn("inbox: archive failed", slog.String("error", err.Error()))
		return
	}
	log.Debug("inbox: archived", slog.String("to", dst))
}
