package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"prodcat/catalog"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrImportInProgress = errors.New("an import is already running")
	ErrNoHeader         = errors.New("file has no header row")
)

const missingKeyReason = "Missing SKU or Name; row skipped."

type State int32

const (
	StateIdle State = iota
	StateOpening
	StateSniffing
	StateImporting
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateSniffing:
		return "sniffing"
	case StateImporting:
		return "importing"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ImportError is the single fatal error of a failed run. Stage is the state
// the run was in when it failed.
type ImportError struct {
	Stage State
	Err   error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import failed while %s: %v", e.Stage, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

type Options struct {
	Format      string
	BatchSize   int
	MaxLogLines int
	LogSuffix   string
	Logger      *zerolog.Logger
	Now         func() time.Time

	// Synonyms adds accepted source headers per catalog field.
	Synonyms map[string][]string
}

type Result struct {
	RunID       string
	Source      string
	Format      string
	Encoding    string
	Dialect     Dialect
	RowsRead    int
	Inserted    int
	Updated     int
	Skipped     int
	Mode        string
	Elapsed     time.Duration
	LogPath     string

	// Diagnostics holds at most Options.MaxLogLines entries; the rest are
	// only counted.
	Diagnostics        []Diagnostic
	DiagnosticsOmitted int
}

// DiagnosticCount is the number of diagnostics found, kept or not.
func (r *Result) DiagnosticCount() int {
	return len(r.Diagnostics) + r.DiagnosticsOmitted
}

// Outcome is the completion message of a background run.
type Outcome struct {
	RunID  string
	Result *Result
	Err    error
}

// Coordinator runs imports into a catalog store, one at a time.
type Coordinator struct {
	store    catalog.Store
	opts     Options
	synonyms map[string][]string

	running atomic.Bool
	state   atomic.Int32
	mu      sync.Mutex
	last    *Result

	// writeGate is held exclusively by a running import and shared by
	// interactive edits.
	writeGate sync.RWMutex
}

func NewCoordinator(store catalog.Store, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxLogLines <= 0 {
		opts.MaxLogLines = DefaultMaxLogLines
	}
	if opts.LogSuffix == "" {
		opts.LogSuffix = DefaultLogSuffix
	}
	if opts.Logger == nil {
		opts.Logger = &log.Logger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: store, opts: opts, synonyms: mergeSynonyms(opts.Synonyms)}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Running reports whether an import is in flight. Interactive writers must
// not touch the catalog while it is.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Edit runs fn while no import can write to the catalog. It returns
// ErrImportInProgress without calling fn when an import is running. An
// import started during fn waits for it before touching the store.
func (c *Coordinator) Edit(fn func() error) error {
	if c.Running() || !c.writeGate.TryRLock() {
		return ErrImportInProgress
	}
	defer c.writeGate.RUnlock()
	return fn()
}

// LastResult returns the result of the most recent successful run.
func (c *Coordinator) LastResult() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run imports path synchronously.
func (c *Coordinator) Run(ctx context.Context, path string) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrImportInProgress
	}
	defer c.running.Store(false)
	return c.run(ctx, uuid.NewString(), path)
}

// Start imports path on a new goroutine and returns the run id. The returned
// channel receives exactly one Outcome and is then closed.
func (c *Coordinator) Start(ctx context.Context, path string) (string, <-chan Outcome, error) {
	if !c.running.CompareAndSwap(false, true) {
		return "", nil, ErrImportInProgress
	}
	c.setState(StateOpening)

	runID := uuid.NewString()
	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		defer c.running.Store(false)
		result, err := c.run(ctx, runID, path)
		done <- Outcome{RunID: runID, Result: result, Err: err}
	}()
	return runID, done, nil
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Coordinator) run(ctx context.Context, runID, path string) (*Result, error) {
	started := c.opts.Now()
	result := &Result{
		RunID:  runID,
		Source: path,
	}
	logger := c.opts.Logger.With().Str("run_id", result.RunID).Str("source", path).Logger()

	c.writeGate.Lock()
	defer c.writeGate.Unlock()

	fail := func(stage State, err error) (*Result, error) {
		c.setState(StateFailed)
		logger.Error().Err(err).Str("stage", stage.String()).Msg("import failed")
		return nil, &ImportError{Stage: stage, Err: err}
	}

	c.setState(StateOpening)
	logger.Info().Msg("import started")
	source, err := OpenSource(path, c.opts.Format)
	if err != nil {
		return fail(StateOpening, err)
	}
	defer source.Close()
	result.Format = source.Format()
	result.Encoding = source.Encoding().Name

	tx, err := c.store.BeginImport(ctx)
	if err != nil {
		return fail(StateOpening, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			logger.Warn().Err(err).Msg("rollback import transaction")
		}
	}()

	c.setState(StateSniffing)
	result.Dialect = source.Sniff()
	rawHeaders, err := source.ReadHeader()
	if err != nil {
		return fail(StateSniffing, err)
	}
	if blankRow(rawHeaders) {
		return fail(StateSniffing, ErrNoHeader)
	}
	headers := buildHeaderMap(rawHeaders, c.synonyms)

	var (
		diagnostics []Diagnostic
		omitted     int
	)
	note := func(d Diagnostic) {
		if len(diagnostics) < c.opts.MaxLogLines {
			diagnostics = append(diagnostics, d)
			return
		}
		omitted++
	}
	if missing := headers.Missing(); len(missing) > 0 {
		note(Diagnostic{
			Line:   1,
			Reason: fmt.Sprintf("required column(s) not found: %s; rows without them are skipped", strings.Join(missing, ", ")),
		})
	}
	logger.Debug().
		Str("encoding", result.Encoding).
		Stringer("dialect", result.Dialect).
		Strs("columns", headers.Columns()).
		Msg("source sniffed")

	c.setState(StateImporting)
	writer := newBatchWriter(tx, c.opts.BatchSize)
	for {
		row, line, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(StateImporting, err)
		}
		result.RowsRead++

		product, notes, err := CoerceRow(row, headers)
		for _, reason := range notes {
			note(Diagnostic{Line: line, Reason: reason})
		}
		if err != nil {
			result.Skipped++
			note(Diagnostic{Line: line, Reason: missingKeyReason})
			continue
		}

		if err := writer.Add(ctx, product); err != nil {
			return fail(StateImporting, err)
		}
	}
	if err := writer.Flush(ctx); err != nil {
		return fail(StateImporting, err)
	}

	c.setState(StateFinalizing)
	result.Mode = tx.Mode()
	if err := tx.Commit(); err != nil {
		return fail(StateFinalizing, err)
	}
	result.Inserted = writer.inserted
	result.Updated = writer.updated
	result.Diagnostics = diagnostics
	result.DiagnosticsOmitted = omitted

	if len(diagnostics) > 0 {
		logPath := path + c.opts.LogSuffix
		header := logHeader{
			Source:   path,
			RunID:    result.RunID,
			Encoding: source.Encoding(),
			Dialect:  result.Dialect,
			Time:     c.opts.Now(),
		}
		if err := writeDiagnosticLog(logPath, header, diagnostics, omitted); err != nil {
			logger.Warn().Err(err).Msg("diagnostic log not written")
		} else {
			result.LogPath = logPath
		}
	}

	result.Elapsed = c.opts.Now().Sub(started)
	c.setState(StateDone)
	c.mu.Lock()
	c.last = result
	c.mu.Unlock()

	logger.Info().
		Int("rows_read", result.RowsRead).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Str("mode", result.Mode).
		Dur("elapsed", result.Elapsed).
		Msg("import completed")
	return result, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if sanitizeCell(cell) != "" {
			return false
		}
	}
	return true
}
