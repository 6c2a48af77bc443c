// Package sync reconciles the local attendance store with the remote store.
//
// A sync pushes the durable mutation queue in dependency order, then pulls
// rows changed on the remote store since the last sync and merges them
// locally. Only one sync runs per Engine at a time.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/attendsync/internal/db"
	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/metrics"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/remote"
	"github.com/kimhsiao/attendsync/internal/sync/conflict"
	"github.com/kimhsiao/attendsync/internal/sync/connectivity"
	"github.com/kimhsiao/attendsync/internal/sync/identity"
	"github.com/kimhsiao/attendsync/internal/sync/queue"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

// DefaultAttendanceLookback bounds the first attendance pull on a device
// with no attendance rows.
const DefaultAttendanceLookback = 30 * 24 * time.Hour

// State is the engine lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateAborting:
		return "aborting"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EventType identifies a sync notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventPushed    EventType = "pushed"
	EventCompleted EventType = "completed"
	EventAborted   EventType = "aborted"
	EventFailed    EventType = "failed"
)

// Event is delivered to the EventHandler during a sync.
type Event struct {
	Type  EventType
	State State
	// Entry is the pushed queue entry for EventPushed.
	Entry *models.QueueEntry
	// Result is set on the final event of a sync.
	Result *Result
	Err    error
}

// EventHandler receives sync events synchronously on the syncing goroutine.
type EventHandler func(Event)

// Result summarizes one sync.
type Result struct {
	// Success is true when the sync finished with no errors.
	Success bool
	// Processed counts queue entries accepted by the remote store.
	Processed int
	// Pulled counts remote records merged locally.
	Pulled int
	// Conflicts counts pulled records that met unpushed local changes.
	Conflicts int
	Aborted   bool
	// Errors lists entries that reached the retry threshold and pull failures.
	Errors    []string
	StartedAt int64
	Duration  time.Duration
}

// Config holds optional engine settings.
type Config struct {
	AttendanceLookback time.Duration
	ConflictStrategy   conflict.ResolutionStrategy
	Metrics            *metrics.Metrics
	// Now returns Unix milliseconds. Defaults to models.NowMillis.
	Now func() int64
}

var errAborted = errors.New("sync aborted")

// Engine performs synchronization between the local and remote stores.
type Engine struct {
	repo     db.SyncRepository
	queue    Queue
	ids      *identity.Resolver
	remote   remote.Store
	conn     StatusSource
	resolver *conflict.Resolver
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() int64
	lookback time.Duration

	state   atomic.Int32
	handler atomic.Pointer[EventHandler]
}

// NewEngine creates an Engine. conn may be nil, in which case the link is
// treated as online.
func NewEngine(repo db.SyncRepository, q Queue, store remote.Store, conn StatusSource, cfg Config) *Engine {
	if cfg.AttendanceLookback <= 0 {
		cfg.AttendanceLookback = DefaultAttendanceLookback
	}
	if cfg.Now == nil {
		cfg.Now = models.NowMillis
	}
	return &Engine{
		repo:     repo,
		queue:    q,
		ids:      identity.New(repo),
		remote:   store,
		conn:     conn,
		resolver: conflict.NewResolver(cfg.ConflictStrategy),
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer("attendsync/sync"),
		now:      cfg.Now,
		lookback: cfg.AttendanceLookback,
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsSyncing reports whether a sync is running.
func (e *Engine) IsSyncing() bool {
	return e.State() != StateIdle
}

// Abort asks a running sync to stop before its next queue entry. It returns
// false when no sync is running.
func (e *Engine) Abort() bool {
	if !e.state.CompareAndSwap(int32(StateSyncing), int32(StateAborting)) {
		return false
	}
	logging.Info("Sync abort requested", nil)
	return true
}

// SetEventHandler sets the handler for sync notifications. A nil handler
// removes it.
func (e *Engine) SetEventHandler(handler EventHandler) {
	if handler == nil {
		e.handler.Store(nil)
		return
	}
	e.handler.Store(&handler)
}

// LastSync returns the start time of the last sync whose pull completed, or
// nil before the first one.
func (e *Engine) LastSync(ctx context.Context) (*time.Time, error) {
	ms, err := e.repo.LastSync(ctx)
	if err != nil || ms == 0 {
		return nil, err
	}
	t := models.MillisTime(ms)
	return &t, nil
}

// PendingChanges returns the number of queued mutations.
func (e *Engine) PendingChanges(ctx context.Context) (int, error) {
	return e.queue.Count(ctx)
}

// Sync performs an automatic sync. It fails with ErrOffline unless the link
// is online and with ErrSyncInProgress while another sync runs.
//
// Push failures do not fail the sync; they are retried on the next sync and
// reported in Result.Errors once they reach the retry threshold. A failed
// pull returns both the partial Result and an ErrSyncFailed error.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	return e.run(ctx, false)
}

// ForceSync performs a manual sync. Unlike Sync it also runs on a degraded
// link.
func (e *Engine) ForceSync(ctx context.Context) (*Result, error) {
	return e.run(ctx, true)
}

func (e *Engine) status() connectivity.Status {
	if e.conn == nil {
		return connectivity.StatusOnline
	}
	return e.conn.Status()
}

func (e *Engine) run(ctx context.Context, manual bool) (*Result, error) {
	status := e.status()
	if status == connectivity.StatusOffline || (!manual && status != connectivity.StatusOnline) {
		return nil, apperrors.Newf(apperrors.ErrOffline, "cannot sync while %s", status)
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.state.Store(int32(StateIdle))

	started := time.Now()
	res := &Result{StartedAt: e.now()}

	ctx, span := e.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.Bool("sync.manual", manual),
		attribute.String("sync.connectivity", string(status)),
	))
	defer span.End()

	e.emit(Event{Type: EventStarted, State: StateSyncing})
	logging.Info("Sync started", map[string]interface{}{
		"manual":       manual,
		"connectivity": status,
	})

	err := e.push(ctx, res)
	if errors.Is(err, errAborted) {
		res.Aborted = true
		res.Errors = append(res.Errors, errAborted.Error())
		var cause error
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = apperrors.Wrap(apperrors.ErrSyncTimeout, "sync interrupted", ctxErr)
		}
		return e.finish(ctx, span, started, res, cause)
	}
	if err != nil {
		return e.finish(ctx, span, started, res, err)
	}

	pulled, conflicts, err := e.pull(ctx, res.StartedAt)
	res.Pulled, res.Conflicts = pulled, conflicts
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDatabase) {
			return e.finish(ctx, span, started, res, err)
		}
		res.Errors = append(res.Errors, fmt.Sprintf("pull: %v", err))
		return e.finish(ctx, span, started, res, apperrors.Wrap(apperrors.ErrSyncFailed, "pull failed", err))
	}

	// The next window starts at this sync's start, so it pulls back the rows
	// pushed here; the merge matches them by remote id.
	if err := e.repo.SetLastSync(ctx, res.StartedAt); err != nil {
		return e.finish(ctx, span, started, res, err)
	}
	e.metrics.LastSync(res.StartedAt)
	return e.finish(ctx, span, started, res, nil)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, started time.Time, res *Result, err error) (*Result, error) {
	res.Duration = time.Since(started)
	res.Success = err == nil && len(res.Errors) == 0

	if n, qerr := e.queue.Count(context.WithoutCancel(ctx)); qerr == nil {
		e.metrics.QueueDepth(n)
	}
	span.SetAttributes(
		attribute.Int("sync.processed", res.Processed),
		attribute.Int("sync.pulled", res.Pulled),
		attribute.Int("sync.errors", len(res.Errors)),
	)
	fields := map[string]interface{}{
		"processed":   res.Processed,
		"pulled":      res.Pulled,
		"conflicts":   res.Conflicts,
		"errors":      len(res.Errors),
		"duration_ms": res.Duration.Milliseconds(),
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.SyncFailed(res.Duration)
		logging.ErrorWithCode("Sync failed", string(apperrors.CodeOf(err)), err, fields)
		e.emit(Event{Type: EventFailed, State: e.State(), Result: res, Err: err})
		return res, err
	case res.Aborted:
		e.metrics.SyncFinished(false, res.Duration)
		logging.Warn("Sync aborted", fields)
		e.emit(Event{Type: EventAborted, State: e.State(), Result: res})
		return res, nil
	}

	e.metrics.SyncFinished(res.Success, res.Duration)
	logging.Info("Sync completed", fields)
	e.emit(Event{Type: EventCompleted, State: e.State(), Result: res})
	return res, nil
}

func (e *Engine) emit(ev Event) {
	if h := e.handler.Load(); h != nil {
		(*h)(ev)
	}
}

func (e *Engine) aborting() bool {
	return e.State() == StateAborting
}

// =====================================================
// Push
// =====================================================

func (e *Engine) push(ctx context.Context, res *Result) error {
	entries, err := e.queue.Drain(ctx)
	if err != nil {
		return err
	}

	for _, entry := range queue.Order(entries) {
		if e.aborting() || ctx.Err() != nil {
			return errAborted
		}

		err := e.pushEntry(ctx, entry)
		if err == nil {
			res.Processed++
			e.metrics.Pushed(string(entry.Table), string(entry.Action))
			e.emit(Event{Type: EventPushed, State: e.State(), Entry: entry})
			continue
		}
		if apperrors.Is(err, apperrors.ErrDatabase) {
			return err
		}
		if ctx.Err() != nil {
			return errAborted
		}
		if err := e.recordFailure(ctx, entry, err, res); err != nil {
			return err
		}
	}
	if e.aborting() {
		return errAborted
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, entry *models.QueueEntry, cause error, res *Result) error {
	exhausted, err := e.queue.Fail(ctx, entry.ID, cause)
	if err != nil {
		return err
	}
	code := apperrors.CodeOf(cause)
	e.metrics.PushFailed(string(entry.Table), string(code))

	fields := map[string]interface{}{
		"queue_id":    entry.ID,
		"table":       entry.Table,
		"action":      entry.Action,
		"local_id":    entry.EntityLocalID,
		"retry_count": entry.RetryCount + 1,
	}
	if !exhausted {
		fields["error"] = cause.Error()
		logging.Warn("Push failed, will retry", fields)
		return nil
	}

	if err := e.repo.MarkError(ctx, entry.Ref()); err != nil {
		return err
	}
	res.Errors = append(res.Errors,
		fmt.Sprintf("%s %s %d: %v", entry.Table, entry.Action, entry.EntityLocalID, cause))
	logging.ErrorWithCode("Push failed permanently", string(code), cause, fields)
	return nil
}

func (e *Engine) pushEntry(ctx context.Context, entry *models.QueueEntry) (err error) {
	ctx, span := e.tracer.Start(ctx, "sync.push", trace.WithAttributes(
		attribute.String("sync.table", string(entry.Table)),
		attribute.String("sync.action", string(entry.Action)),
		attribute.Int64("sync.local_id", entry.EntityLocalID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch entry.Action {
	case models.ActionCreate:
		return e.pushCreate(ctx, entry)
	case models.ActionUpdate:
		return e.pushUpdate(ctx, entry)
	case models.ActionDelete:
		return e.pushDelete(ctx, entry)
	}
	return apperrors.Newf(apperrors.ErrInvalid, "unknown action %q", entry.Action)
}

func (e *Engine) pushCreate(ctx context.Context, entry *models.QueueEntry) error {
	ent, exists, err := e.load(ctx, entry)
	if err != nil {
		return err
	}
	if !exists {
		return e.queue.Ack(ctx, entry.ID)
	}
	if ent.Remote() != "" {
		// Already known remotely, through an earlier attempt or a pull.
		if ent.SyncState() == models.SyncStatusSynced {
			return e.settle(ctx, entry, ent, "")
		}
		return e.sendUpdate(ctx, entry, ent)
	}

	if a, ok := ent.(*models.Attendance); ok {
		if err := e.ids.ResolveAttendance(ctx, a); err != nil {
			return err
		}
	}
	rec, err := remote.ToRecord(ent)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record", err)
	}

	stored, err := e.remote.Insert(ctx, entry.Table, rec)
	if err == nil {
		return e.settle(ctx, entry, ent, stored.ID())
	}
	if !remote.IsUniqueViolation(err) {
		return apperrors.Wrap(apperrors.ErrSyncFailed, fmt.Sprintf("insert %s", entry.Table), err)
	}

	existing, ferr := e.findExisting(ctx, ent)
	if remote.IsNotFound(ferr) {
		return apperrors.Wrap(apperrors.ErrSyncConflict, "unique violation without a matching remote row", err)
	}
	if ferr != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to look up existing remote row", ferr)
	}
	logging.Info("Adopted existing remote row", map[string]interface{}{
		"table":     entry.Table,
		"local_id":  entry.EntityLocalID,
		"remote_id": existing.ID(),
	})
	return e.settle(ctx, entry, ent, existing.ID())
}

// findExisting returns the remote row a rejected insert collided with:
// attendance by (member, event), any row by its client id.
func (e *Engine) findExisting(ctx context.Context, ent models.Entity) (remote.Record, error) {
	if a, ok := ent.(*models.Attendance); ok {
		rec, err := e.remote.FindAttendance(ctx, a.MemberRemoteID, a.EventRemoteID)
		if !remote.IsNotFound(err) {
			return rec, err
		}
	}
	return e.remote.Get(ctx, ent.Table(), ent.Client().String())
}

func (e *Engine) pushUpdate(ctx context.Context, entry *models.QueueEntry) error {
	ent, exists, err := e.load(ctx, entry)
	if err != nil {
		return err
	}
	if !exists {
		// The row was deleted after the update; its delete entry follows.
		return e.queue.Ack(ctx, entry.ID)
	}
	if ent.Remote() == "" {
		pending, err := e.queue.HasPendingFor(ctx, entry.Ref(), entry.ID)
		if err != nil {
			return err
		}
		if !pending {
			// A duplicate kept by keepDuplicate has nothing remote to update.
			return e.settle(ctx, entry, ent, "")
		}
		return apperrors.Newf(apperrors.ErrDependencyNotSynced,
			"%s %d has not been created remotely", entry.Table, entry.EntityLocalID)
	}
	return e.sendUpdate(ctx, entry, ent)
}

func (e *Engine) sendUpdate(ctx context.Context, entry *models.QueueEntry, ent models.Entity) error {
	if a, ok := ent.(*models.Attendance); ok {
		if err := e.ids.ResolveAttendance(ctx, a); err != nil {
			return err
		}
	}
	fields, err := remote.MutableFields(ent)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record", err)
	}
	if _, err := e.remote.Update(ctx, entry.Table, ent.Remote(), fields); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed,
			fmt.Sprintf("update %s %s", entry.Table, ent.Remote()), err)
	}
	return e.settle(ctx, entry, ent, "")
}

func (e *Engine) pushDelete(ctx context.Context, entry *models.QueueEntry) error {
	var target struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(entry.Payload, &target); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "corrupt delete payload", err)
	}
	if target.ID != "" {
		err := e.remote.Delete(ctx, entry.Table, target.ID)
		if err != nil && !remote.IsNotFound(err) {
			return apperrors.Wrap(apperrors.ErrSyncFailed,
				fmt.Sprintf("delete %s %s", entry.Table, target.ID), err)
		}
	}
	return e.queue.Ack(ctx, entry.ID)
}

// settle records a successful push: remoteID, when set, is written back;
// the row is marked synced unless later entries still mutate it; the entry
// is acknowledged.
func (e *Engine) settle(ctx context.Context, entry *models.QueueEntry, ent models.Entity, remoteID string) error {
	ref := entry.Ref()
	exists, err := e.repo.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		if remoteID != "" {
			// Deleted locally while the insert was in flight. The remote copy
			// goes now so the pull of this sync cannot bring the row back.
			derr := e.remote.Delete(ctx, ref.Table, remoteID)
			if derr == nil || remote.IsNotFound(derr) {
				return e.queue.Ack(ctx, entry.ID)
			}
			payload, _ := json.Marshal(map[string]string{"id": remoteID})
			err := e.queue.Append(ctx, &models.QueueEntry{
				Table:         ref.Table,
				Action:        models.ActionDelete,
				EntityLocalID: ref.LocalID,
				Payload:       payload,
			})
			if err != nil {
				return err
			}
		}
		return e.queue.Ack(ctx, entry.ID)
	}

	if remoteID != "" {
		holder, err := e.repo.GetByRemoteID(ctx, ref.Table, remoteID)
		switch {
		case err == nil && holder.Local() != ref.LocalID:
			return e.keepDuplicate(ctx, entry, holder)
		case err != nil && !apperrors.Is(err, apperrors.ErrNotFound):
			return err
		}
		if err := e.repo.AssignRemoteID(ctx, ref, remoteID); err != nil {
			return err
		}
	}

	pending, err := e.queue.HasPendingFor(ctx, ref, entry.ID)
	if err != nil {
		return err
	}
	if !pending {
		if err := e.repo.MarkSynced(ctx, ref); err != nil {
			return err
		}
	}
	return e.queue.Ack(ctx, entry.ID)
}

// keepDuplicate handles a pushed attendance row whose remote counterpart is
// already stored locally under another row. The pushed row stays without a
// remote id, marked synced, and its queued entries are cancelled.
func (e *Engine) keepDuplicate(ctx context.Context, entry *models.QueueEntry, holder models.Entity) error {
	if entry.Table != models.TableAttendance {
		return apperrors.Newf(apperrors.ErrSyncConflict,
			"%s remote id %s already belongs to local row %d", entry.Table, holder.Remote(), holder.Local())
	}
	logging.Info("Duplicate attendance already synced", map[string]interface{}{
		"local_id":  entry.EntityLocalID,
		"held_by":   holder.Local(),
		"remote_id": holder.Remote(),
	})
	ref := entry.Ref()
	if _, err := e.queue.CancelFor(ctx, ref); err != nil {
		return err
	}
	return e.repo.MarkSynced(ctx, ref)
}

// load returns the current local row of entry. When the row no longer exists
// the queued snapshot is returned with exists false.
func (e *Engine) load(ctx context.Context, entry *models.QueueEntry) (models.Entity, bool, error) {
	ent, err := e.repo.Get(ctx, entry.Table, entry.EntityLocalID)
	if err == nil {
		return ent, true, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	snapshot, err := newEntity(entry.Table)
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(entry.Payload, snapshot); err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrInvalid, "corrupt queue payload", err)
	}
	return snapshot, false, nil
}

func newEntity(table models.Table) (models.Entity, error) {
	switch table {
	case models.TableMembers:
		return &models.Member{}, nil
	case models.TableEvents:
		return &models.Event{}, nil
	case models.TableAttendance:
		return &models.Attendance{}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
}

// =====================================================
// Pull
// =====================================================

type window struct {
	since     int64
	inclusive bool
}

// windows returns the change window of each table. Attendance on a device
// with no attendance rows starts from the lookback instead of lastSync.
func (e *Engine) windows(lastSync int64, attendanceCount int, startedAt int64) map[models.Table]window {
	w := map[models.Table]window{
		models.TableMembers:    {since: lastSync},
		models.TableEvents:     {since: lastSync},
		models.TableAttendance: {since: lastSync},
	}
	if attendanceCount == 0 {
		w[models.TableAttendance] = window{since: startedAt - e.lookback.Milliseconds(), inclusive: true}
	}
	return w
}

func (e *Engine) pull(ctx context.Context, startedAt int64) (pulled, conflicts int, err error) {
	ctx, span := e.tracer.Start(ctx, "sync.pull")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("sync.pulled", pulled))
		span.End()
	}()

	lastSync, err := e.repo.LastSync(ctx)
	if err != nil {
		return 0, 0, err
	}
	attendanceCount, err := e.repo.CountAttendance(ctx)
	if err != nil {
		return 0, 0, err
	}
	windows := e.windows(lastSync, attendanceCount, startedAt)

	batches := make([][]remote.Record, len(models.Tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range models.Tables {
		w := windows[table]
		g.Go(func() error {
			recs, err := e.remote.ChangedSince(gctx, table, w.since, w.inclusive)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", table, err)
			}
			batches[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	for i, table := range models.Tables {
		merged := 0
		for _, rec := range batches[i] {
			conflicted, err := e.merge(ctx, table, rec)
			if apperrors.Is(err, apperrors.ErrDatabase) {
				return pulled, conflicts, err
			}
			if err != nil {
				logging.Warn("Skipping remote record", map[string]interface{}{
					"table":     table,
					"remote_id": rec.ID(),
					"error":     err.Error(),
				})
				continue
			}
			merged++
			if conflicted {
				conflicts++
			}
		}
		pulled += merged
		e.metrics.Pulled(string(table), merged)
	}
	return pulled, conflicts, nil
}

// merge writes one pulled record into the local store and reports whether it
// met unpushed local changes.
func (e *Engine) merge(ctx context.Context, table models.Table, rec remote.Record) (bool, error) {
	incoming, err := remote.FromRecord(table, rec)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInvalid, "failed to decode remote record", err)
	}
	local, err := e.match(ctx, incoming)
	if err != nil {
		return false, err
	}

	conflicted := false
	if local != nil {
		incoming.Bind(local.Local(), local.Client())
		if c, ok := e.resolver.Detect(local, incoming); ok {
			conflicted = true
			d, err := e.resolver.Resolve(c)
			if err != nil {
				return false, err
			}
			if err := e.repo.CreateConflictLog(ctx, d.Log); err != nil {
				return false, err
			}
			e.metrics.Conflict()
			if !d.Overwrite {
				if local.Remote() == "" {
					ref := models.EntityRef{Table: table, LocalID: local.Local()}
					return true, e.repo.AssignRemoteID(ctx, ref, incoming.Remote())
				}
				return true, nil
			}
		}
	} else {
		deleted, err := e.queue.HasPendingDelete(ctx, table, incoming.Remote())
		if err != nil || deleted {
			return false, err
		}
		incoming.Bind(0, uuid.ClientIDFor(incoming.Remote()))
	}

	if a, ok := incoming.(*models.Attendance); ok {
		if err := e.ids.LocalizeAttendance(ctx, a); err != nil {
			return conflicted, err
		}
		if prev, ok := local.(*models.Attendance); ok {
			if a.MemberLocalID == 0 {
				a.MemberLocalID = prev.MemberLocalID
			}
			if a.EventLocalID == 0 {
				a.EventLocalID = prev.EventLocalID
			}
		}
	}
	if _, err := e.repo.Put(ctx, incoming); err != nil {
		return conflicted, err
	}
	return conflicted, nil
}

// match finds the local row of a pulled record: by remote id, then by client
// id, then for attendance by (member, event).
func (e *Engine) match(ctx context.Context, incoming models.Entity) (models.Entity, error) {
	table := incoming.Table()
	local, err := e.repo.GetByRemoteID(ctx, table, incoming.Remote())
	if err == nil {
		return local, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if uuid.IsValid(incoming.Remote()) {
		local, err := e.repo.GetByClientID(ctx, table, models.UUID(incoming.Remote()))
		if err == nil {
			return local, nil
		}
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	a, ok := incoming.(*models.Attendance)
	if !ok || a.MemberRemoteID == "" || a.EventRemoteID == "" {
		return nil, nil
	}
	member := db.IDs{RemoteID: a.MemberRemoteID}
	if member.LocalID, _, err = e.ids.MemberLocalID(ctx, a.MemberRemoteID); err != nil {
		return nil, err
	}
	event := db.IDs{RemoteID: a.EventRemoteID}
	if event.LocalID, _, err = e.ids.EventLocalID(ctx, a.EventRemoteID); err != nil {
		return nil, err
	}
	found, err := e.repo.FindAttendance(ctx, member, event)
	if err == nil {
		return found, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}
