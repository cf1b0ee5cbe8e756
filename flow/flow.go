// Package flow implements the producer/consumer Flow (spec §4.7): a
// bounded queue connecting one Home producer to one Store consumer, the
// incremental watermark protocol, and the pending/running/terminal state
// machine. It is grounded on the teacher's goroutine-plus-channel worker
// idiom (the same producer/consumer-over-a-channel shape
// stores/database.Store.flush uses for its parallel writers), generalized
// to a single long-lived producer and consumer pair instead of a
// fan-out/fan-in burst.
package flow

import (
	"context"
	"sync"
	"time"

	"hygge.dev/config"
	"hygge.dev/ferrors"
	"hygge.dev/home"
	"hygge.dev/journal"
	"hygge.dev/logging"
	"hygge.dev/progress"
	"hygge.dev/recordbatch"
	"hygge.dev/retry"
	"hygge.dev/store"
	"hygge.dev/watermark"
)

var log = logging.New("flow")

// State is a Flow's position in its spec §4.7 state machine:
// pending → running → {succeeded | failed | cancelled}. Terminal states
// are absorbing.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Flow wires one Home to one Store over a bounded queue of RecordBatch
// values, the sole backpressure mechanism between producer and consumer.
type Flow struct {
	name        string
	entityName  string
	cfg         config.FlowConfig
	home        home.Home
	store       store.Store
	journal     journal.Journal
	retryPolicy retry.Policy
	progress    *progress.Tracker

	mu    sync.Mutex
	state State
}

// New returns a Flow named cfg.Name, reading from h and writing to s.
// journal may be nil, in which case the incremental watermark protocol is
// skipped entirely and every run behaves as a full read (the caller is
// responsible for ensuring that is consistent with cfg.RunType). retryPolicy
// governs the retry wrapper around each Store.Write call; callers
// typically set retryPolicy.BeforeRetry to s.ResetRetrySensitiveState.
func New(cfg config.FlowConfig, h home.Home, s store.Store, j journal.Journal, retryPolicy retry.Policy) *Flow {
	cfg = cfg.WithDefaults()
	entityName := cfg.EntityName
	if entityName == "" {
		entityName = cfg.Name
	}
	return &Flow{
		name:        cfg.Name,
		entityName:  entityName,
		cfg:         cfg,
		home:        h,
		store:       s,
		journal:     j,
		retryPolicy: retryPolicy,
		progress:    progress.NewTracker(cfg.Name),
		state:       StatePending,
	}
}

// State reports the Flow's current position in its state machine. Safe for
// concurrent use while Run is in progress.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// Result is the outcome of one Flow run, the shape the Coordinator
// collects per spec §4.9.
type Result struct {
	Name     string
	Status   State
	RowCount int64
	Duration time.Duration
	Err      error
}

// Run executes the Flow to completion: resolves the incremental watermark
// (if applicable), starts the producer and consumer goroutines connected
// by a bounded channel, waits for both to finish, and records the run's
// outcome to the journal. Store.Close runs on every exit path, including
// a context cancellation or a producer/consumer failure.
func (f *Flow) Run(ctx context.Context, runIDs journal.RunIDs) Result {
	f.setState(StateRunning)
	f.progress.Start()
	started := time.Now()

	runType := runTypeFor(f.cfg.RunType)
	f.store.ConfigureForRun(runType)

	var entry journal.Entry
	if f.journal != nil {
		var err error
		entry, err = f.journal.BeginRun(runIDs, f.name, f.entityName, string(f.cfg.RunType), started)
		if err != nil {
			f.store.Close(ctx)
			f.setState(StateFailed)
			return f.result(started, ferrors.NewConfigError("opening journal entry", err))
		}
	}

	parentCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := f.store.BeforeFlowStart(ctx); err != nil {
		f.store.Close(ctx)
		f.setState(StateFailed)
		f.complete(entry, false, nil, err)
		return f.result(started, err)
	}

	batches, err := f.open(ctx)
	if err != nil {
		f.store.Close(ctx)
		f.setState(StateFailed)
		f.complete(entry, false, nil, err)
		return f.result(started, err)
	}

	tracker := watermark.NewTracker(f.watermarkColumn())
	queue := make(chan *recordbatch.RecordBatch, f.cfg.QueueSize)

	var producerErr, consumerErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		producerErr = f.produce(ctx, batches, tracker, queue, cancel)
	}()
	go func() {
		defer wg.Done()
		consumerErr = f.consume(ctx, queue, cancel)
	}()

	wg.Wait()
	batches.Close()

	runErr := producerErr
	if runErr == nil {
		runErr = consumerErr
	}

	closeErr := f.store.Close(ctx)
	if runErr == nil {
		runErr = closeErr
	}

	if runErr != nil {
		// parentCtx.Err() is set only when the caller cancelled the run from
		// the outside (spec §4.9's "SIGINT maps to cancelling all Flows");
		// a producer/consumer failure that cancels its sibling task via the
		// inner ctx still reports StateFailed, since the failure originated
		// inside this Flow rather than from the caller.
		status := StateFailed
		if parentCtx.Err() != nil {
			status = StateCancelled
		}
		f.setState(status)
		f.complete(entry, false, nil, runErr)
		return f.result(started, runErr)
	}

	f.setState(StateSucceeded)
	serialized, hasValue := tracker.Serialize()
	f.complete(entry, hasValue, &serialized, nil)
	return f.result(started, nil)
}

func (f *Flow) result(started time.Time, err error) Result {
	summary := f.progress.Snapshot(statusLabel(f.State()), err)
	return Result{
		Name:     f.name,
		Status:   f.State(),
		RowCount: summary.Rows,
		Duration: time.Since(started),
		Err:      err,
	}
}

func statusLabel(s State) string {
	switch s {
	case StateSucceeded:
		return "pass"
	case StateCancelled, StateFailed:
		return "fail"
	default:
		return "fail"
	}
}

func (f *Flow) complete(entry journal.Entry, hasWatermark bool, serialized *string, runErr error) {
	if f.journal == nil {
		return
	}
	status := journal.StatusOK
	if runErr != nil {
		status = journal.StatusFailed
	}
	serializedValue := ""
	if serialized != nil {
		serializedValue = *serialized
	}
	rowCount := f.progress.Snapshot(statusLabel(f.State()), runErr).Rows
	if err := f.journal.CompleteRun(entry, status, serializedValue, hasWatermark && runErr == nil, rowCount, runErr); err != nil {
		log.WithField("flow_name", f.name).WithField("status", status).WithError(err).Error("failed to write journal completion entry")
	}
}

// watermarkColumn returns the configured watermark column, or "" if this
// Flow has no watermark configuration (full_drop Flows never consult it).
func (f *Flow) watermarkColumn() string {
	if f.cfg.Watermark == nil {
		return ""
	}
	return f.cfg.Watermark.WatermarkColumn
}

// fallbackOnUnsafeName reports whether this Flow's watermark configuration
// allows an unsafe column name to silently widen to a full read. A Flow
// with no watermark configuration at all reports true; open still passes
// that to ReadWithWatermarkStrict, with an empty column name, whenever the
// run is incremental and the journal holds a prior watermark.
func (f *Flow) fallbackOnUnsafeName() bool {
	if f.cfg.Watermark == nil {
		return true
	}
	return f.cfg.Watermark.FallbackOnUnsafeName
}

// open resolves the incremental protocol (spec §4.7): consult the journal
// for the last successful watermark, and dispatch to
// Home.ReadWithWatermark when the run is incremental and a watermark
// exists, falling back to a full Home.Read otherwise.
func (f *Flow) open(ctx context.Context) (home.Batches, error) {
	if f.cfg.RunType == config.RunTypeIncremental && f.journal != nil {
		serialized, ok, err := f.journal.LastSuccessfulWatermark(f.name, f.entityName)
		if err != nil {
			return nil, ferrors.NewConfigError("looking up last successful watermark", err)
		}
		if ok {
			if strict, supports := f.home.(home.StrictWatermarkReader); supports {
				return strict.ReadWithWatermarkStrict(ctx, f.watermarkColumn(), serialized, f.fallbackOnUnsafeName())
			}
			reader, supports := f.home.(home.WatermarkReader)
			if !supports {
				return nil, ferrors.NewConfigError(f.name+": run_type is incremental but the configured home does not support read_with_watermark", nil)
			}
			return reader.ReadWithWatermark(ctx, f.watermarkColumn(), serialized)
		}
	}
	return f.home.Read(ctx)
}

// produce iterates batches, updating tracker and enqueueing each batch
// onto queue (blocking when it is full, the sole backpressure mechanism),
// then closes queue once the source is exhausted or an error/cancellation
// interrupts it.
func (f *Flow) produce(ctx context.Context, batches home.Batches, tracker *watermark.Tracker, queue chan<- *recordbatch.RecordBatch, cancel context.CancelFunc) error {
	defer close(queue)

	for {
		batch, ok, err := batches.Next()
		if err != nil {
			cancel()
			return ferrors.NewSourceError(f.name+": reading next batch", err)
		}
		if !ok {
			return nil
		}

		tracker.Update(batch)

		select {
		case <-ctx.Done():
			return ferrors.NewCancellationError(f.name + ": producer cancelled while enqueueing")
		default:
		}

		select {
		case queue <- batch:
		case <-ctx.Done():
			return ferrors.NewCancellationError(f.name + ": producer cancelled while enqueueing")
		}

		f.progress.Mark(batch.RowCount())
	}
}

// consume dequeues batches until queue is closed, writing each through the
// retry wrapper, then calls Store.Finish. A write failure (after retries
// are exhausted) cancels the Flow via the shared context so the producer
// stops enqueueing further batches.
func (f *Flow) consume(ctx context.Context, queue <-chan *recordbatch.RecordBatch, cancel context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ferrors.NewCancellationError(f.name + ": consumer cancelled while waiting for next batch")
		default:
		}

		select {
		case batch, open := <-queue:
			if !open {
				// The producer closes the queue both on normal exhaustion
				// and after a read failure (having cancelled ctx first); a
				// non-nil ctx.Err() here means the close was the latter, so
				// Store.Finish must not run over a partial, abandoned read.
				if ctx.Err() != nil {
					return ferrors.NewCancellationError(f.name + ": consumer observed producer cancellation")
				}
				if err := f.store.Finish(ctx); err != nil {
					return err
				}
				return nil
			}
			if err := retry.Do(ctx, f.retryPolicy, func(ctx context.Context) error {
				return f.store.Write(ctx, batch)
			}); err != nil {
				cancel()
				return err
			}
		case <-ctx.Done():
			return ferrors.NewCancellationError(f.name + ": consumer cancelled while waiting for next batch")
		}
	}
}

func runTypeFor(rt config.RunType) store.RunType {
	if rt == config.RunTypeIncremental {
		return store.RunTypeIncremental
	}
	return store.RunTypeFullDrop
}
