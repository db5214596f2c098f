/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package catsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/foodcat/catsync/database"
	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/internal/apierror"
	redlock "github.com/foodcat/catsync/internal/lock"
	"github.com/foodcat/catsync/internal/notification"
	"github.com/foodcat/catsync/model"
	fanout "github.com/foodcat/catsync/notification"
	"github.com/sirupsen/logrus"
)

// ErrWorkerStopped is returned for commands sent to a worker that is not running.
var ErrWorkerStopped = errors.New("pending request worker is not running")

var tracer = otel.Tracer("catsync.worker")

// Worker serializes every status transition, forced edit and LIV import onto
// a single goroutine. Reconciliation of one event always finishes before the
// next event is looked at.
type Worker struct {
	datasource database.IDataSource
	reconciler *reconciler
	events     *fanout.Broker[model.Event]
	status     *fanout.Broker[model.WorkerStatus]
	queue      *eventQueue
	tracker    *tracker
	importFn   ImportFunc
	importer   *importer

	locker   *redlock.Locker
	lockTTL  time.Duration
	lockWait time.Duration

	state atomic.Value

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	publishCtx    context.Context
	cancelPublish context.CancelFunc
	wg            sync.WaitGroup
	now           func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLocker makes Start acquire a Redis lock so only one worker runs across
// processes sharing the store.
func WithLocker(locker *redlock.Locker, ttl time.Duration) WorkerOption {
	return func(w *Worker) {
		w.locker = locker
		w.lockTTL = ttl
	}
}

// WithLockWait makes Start wait up to d for a lock held by another process,
// such as the instance being replaced during a restart.
func WithLockWait(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.lockWait = d
	}
}

// WithImportFunc replaces the function used to import a last internal version.
func WithImportFunc(fn ImportFunc) WorkerOption {
	return func(w *Worker) {
		w.importFn = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// NewWorker creates a stopped worker.
//
// Parameters:
// - datasource database.IDataSource: Store for requests and catalogues.
// - events *fanout.Broker[model.Event]: Receives status-changed and action events.
// - status *fanout.Broker[model.WorkerStatus]: Receives ONGOING/WAITING changes.
// - buffer int: Initial capacity of the event queue.
//
// Returns:
// - *Worker: The configured worker.
func NewWorker(datasource database.IDataSource, events *fanout.Broker[model.Event], status *fanout.Broker[model.WorkerStatus], buffer int, opts ...WorkerOption) *Worker {
	w := &Worker{
		datasource: datasource,
		events:     events,
		status:     status,
		queue:      newEventQueue(buffer),
		tracker:    newTracker(),
		importFn: func(_ context.Context, job ImportJob) (model.Version, error) {
			return job.Version, nil
		},
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.reconciler = &reconciler{datasource: datasource, now: w.now}
	w.state.Store(model.WorkerWaiting)
	return w
}

// Start launches the event loop. It fails when the cross-process lock is
// held by another worker.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if w.locker != nil {
		var err error
		if w.lockWait > 0 {
			err = w.locker.WaitLock(ctx, w.lockTTL, w.lockWait)
		} else {
			err = w.locker.Lock(ctx, w.lockTTL)
		}
		if err != nil {
			return fmt.Errorf("acquire worker lock %s: %w", w.locker.Key(), err)
		}
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.publishCtx, w.cancelPublish = context.WithCancel(context.Background())
	w.importer = newImporter(w.importFn, w.reportImport)

	stop := w.stopCh
	processCtx := context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, processCtx, stop)
	}()

	if w.locker != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.keepLock(stop)
		}()
	}

	logrus.Info("Pending request worker started")
	return nil
}

// Stop waits for the event being processed, stops running imports and
// releases the worker lock. Queued events stay queued.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.cancelPublish()
	imp := w.importer
	w.mu.Unlock()

	imp.stop()
	w.wg.Wait()

	if w.locker != nil {
		if err := w.locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("release worker lock: %v", err)
		}
	}
	logrus.Info("Pending request worker stopped")
}

// Backlog returns the number of events waiting to be processed.
func (w *Worker) Backlog() int {
	return w.queue.Len()
}

// Outstanding returns the number of request slots currently held.
func (w *Worker) Outstanding() int {
	return w.tracker.len()
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Deliver queues a status update. It is safe to call from any goroutine and
// never blocks on the worker.
func (w *Worker) Deliver(update dcf.StatusUpdate) {
	w.queue.Enqueue(workerEvent{kind: eventStatus, update: update})
}

// Retry queues another reconciliation attempt for an unreconciled request.
func (w *Worker) Retry(requestID string) {
	w.queue.Enqueue(workerEvent{kind: eventRetry, requestID: requestID})
}

// ForceEdit asks the worker to start a forced edit on a catalogue and waits
// for the outcome.
func (w *Worker) ForceEdit(ctx context.Context, code, user string, level model.Level) error {
	w.mu.Lock()
	running, stop := w.running, w.stopCh
	w.mu.Unlock()
	if !running {
		return ErrWorkerStopped
	}

	cmd := &forcedEditCommand{code: code, user: user, level: level, result: make(chan error, 1)}
	w.queue.Enqueue(workerEvent{kind: eventForcedEdit, forcedEdit: cmd})

	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrWorkerStopped
	}
}

func (w *Worker) reportImport(res ImportResult) {
	w.queue.Enqueue(workerEvent{kind: eventImportDone, imported: &res})
}

func (w *Worker) run(ctx, processCtx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Pending request worker context cancelled")
			return
		case <-stop:
			return
		default:
		}

		if ev, ok := w.queue.TryDequeue(); ok {
			w.process(processCtx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			logrus.Info("Pending request worker context cancelled")
			return
		case <-stop:
			return
		case <-w.queue.Wait():
		}
	}
}

func (w *Worker) process(ctx context.Context, ev workerEvent) {
	switch ev.kind {
	case eventStatus:
		w.handleStatus(ctx, ev.update)
	case eventRetry:
		w.handleRetry(ctx, ev.requestID)
	case eventForcedEdit:
		ev.forcedEdit.result <- w.handleForcedEdit(ctx, ev.forcedEdit)
	case eventImportDone:
		w.handleImportDone(ctx, *ev.imported)
	}
}

func (w *Worker) keepLock(stop <-chan struct{}) {
	interval := w.lockTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.locker.ExtendLock(context.Background(), w.lockTTL); err != nil {
				notification.NotifyError(fmt.Errorf("extend worker lock %s: %w", w.locker.Key(), err))
			}
		}
	}
}

// Status returns the last worker status published.
func (w *Worker) Status() model.WorkerStatus {
	return w.state.Load().(model.WorkerStatus)
}

func (w *Worker) setStatus(status model.WorkerStatus) {
	w.state.Store(status)
	if err := w.status.Publish(w.publishCtx, status); err != nil {
		logrus.Debugf("worker status %s not delivered: %v", status, err)
	}
}

func (w *Worker) publish(ev model.Event) {
	if err := w.events.Publish(w.publishCtx, ev); err != nil {
		logrus.Debugf("event %s not delivered: %v", ev.Name(), err)
	}
}

func (w *Worker) announce(out reconcileOutcome) {
	for _, action := range out.actions {
		action.OccurredAt = w.now()
		w.publish(model.NewActionPerformedEvent(action))
	}
	for _, job := range out.imports {
		if !w.importer.start(job) {
			logrus.Warnf("import of catalogue %s not started, importer stopped", job.CatalogueCode)
		}
	}
}

// handleStatus applies one remote status report. Unknown ids, duplicates and
// regressions are dropped before the worker reports itself busy.
func (w *Worker) handleStatus(ctx context.Context, update dcf.StatusUpdate) {
	fields := logrus.Fields{"request_id": update.RequestID, "status": update.Report.Status}

	req, err := w.datasource.GetPendingRequest(ctx, update.RequestID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithFields(fields).Debug("status for unknown request discarded")
			return
		}
		notification.NotifyError(fmt.Errorf("load pending request %s: %w", update.RequestID, err))
		return
	}

	next := update.Report.Status
	if !req.Status.Advances(next) {
		logrus.WithFields(fields).Debugf("stale status dropped, request already %s", req.Status)
		return
	}

	w.setStatus(model.WorkerOngoing)
	defer w.setStatus(model.WorkerWaiting)

	ctx, span := tracer.Start(ctx, "Worker.HandleStatus", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.type", string(req.Type)),
		attribute.String("request.status", string(next)),
	)

	at := update.ReceivedAt
	if at.IsZero() {
		at = w.now()
	}

	old := req.Status
	updated := req.Clone()
	updated.Status = next
	if next.IsTerminal() {
		updated.Response = update.Report.Response
		if updated.Response == "" {
			updated.Response = model.ResponseError
		}
	}
	if update.Report.Log != nil {
		updated.Log = update.Report.Log
	}
	updated.UpdatedAt = at

	out, err := w.reconcileAndStore(ctx, updated)
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(fmt.Errorf("reconcile pending request %s: %w", updated.RequestID, err))
		updated.Reconciled = false
		if err := w.storeUnreconciled(ctx, updated); err != nil {
			notification.NotifyError(fmt.Errorf("store unreconciled request %s: %w", updated.RequestID, err))
		}
		out = reconcileOutcome{}
	}

	if updated.IsTerminal() && updated.Reconciled {
		w.tracker.releaseRequest(updated.RequestID)
	}

	w.publish(model.NewStatusChangedEvent(model.StatusChangedEvent{
		RequestID:     updated.RequestID,
		Type:          updated.Type,
		CatalogueCode: updated.CatalogueCode(),
		OldStatus:     old,
		NewStatus:     updated.Status,
		Response:      updated.Response,
		Request:       *updated.Clone(),
		OccurredAt:    at,
	}))
	w.announce(out)
}

// handleRetry reconciles a request whose earlier reconciliation failed.
// Listeners already saw its status change, so only actions are published.
func (w *Worker) handleRetry(ctx context.Context, requestID string) {
	req, err := w.datasource.GetPendingRequest(ctx, requestID)
	if err != nil {
		if !apierror.HasCode(err, apierror.ErrNotFound) {
			notification.NotifyError(fmt.Errorf("load pending request %s: %w", requestID, err))
		}
		return
	}
	if req.Reconciled {
		return
	}

	w.setStatus(model.WorkerOngoing)
	defer w.setStatus(model.WorkerWaiting)

	ctx, span := tracer.Start(ctx, "Worker.RetryReconciliation")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	req.UpdatedAt = w.now()
	out, err := w.reconcileAndStore(ctx, req)
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(fmt.Errorf("retry reconciliation of %s: %w", requestID, err))
		return
	}
	logrus.WithFields(logrus.Fields{"request_id": requestID, "status": req.Status}).Info("pending request reconciled on retry")

	if req.IsTerminal() {
		w.tracker.releaseRequest(requestID)
	}
	w.announce(out)
}

// reconcileAndStore runs the reconciliation, the request update and the
// history append in one transaction.
func (w *Worker) reconcileAndStore(ctx context.Context, req *model.PendingRequest) (reconcileOutcome, error) {
	var out reconcileOutcome
	err := w.datasource.WithTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = w.reconciler.reconcile(ctx, req)
		if err != nil {
			return err
		}
		req.Reconciled = true
		if err := w.datasource.UpdatePendingRequest(ctx, req); err != nil {
			return err
		}
		_, err = w.datasource.AppendPendingRequestLog(ctx, req.HistoryEntry(req.UpdatedAt))
		return err
	})
	if err != nil {
		req.Reconciled = false
		return reconcileOutcome{}, err
	}
	return out, nil
}

// storeUnreconciled keeps the remote status even though the local side
// effects were rolled back.
func (w *Worker) storeUnreconciled(ctx context.Context, req *model.PendingRequest) error {
	return w.datasource.WithTx(ctx, func(ctx context.Context) error {
		if err := w.datasource.UpdatePendingRequest(ctx, req); err != nil {
			return err
		}
		_, err := w.datasource.AppendPendingRequestLog(ctx, req.HistoryEntry(req.UpdatedAt))
		return err
	})
}

// handleForcedEdit creates a provisional reservation with a temporary
// internal version ahead of the remote reservation.
func (w *Worker) handleForcedEdit(ctx context.Context, cmd *forcedEditCommand) error {
	w.setStatus(model.WorkerOngoing)
	defer w.setStatus(model.WorkerWaiting)

	ctx, span := tracer.Start(ctx, "Worker.ForceEdit")
	defer span.End()
	span.SetAttributes(attribute.String("catalogue.code", cmd.code))

	var out reconcileOutcome
	err := w.datasource.WithTx(ctx, func(ctx context.Context) error {
		cat, err := w.datasource.GetCatalogueByCode(ctx, cmd.code)
		if err != nil {
			return err
		}

		level, base := cmd.level, cat.Version
		switch st := cat.State().(type) {
		case model.NotReserved:
			if err := w.requireReserveRequest(ctx, cat.Code, cmd.user); err != nil {
				return err
			}
		case model.ReservedProvisional:
			if st.User != cmd.user {
				return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("catalogue %s is being edited by %s", cat.Code, st.User), nil)
			}
			if st.TempVersion != nil {
				return nil
			}
			base = st.BaseVersion
			if level == "" {
				level = st.Level
			}
		case model.ReservedConfirmed:
			if st.User == cmd.user {
				return nil
			}
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("catalogue %s is reserved by %s", cat.Code, st.User), nil)
		case model.ReservedByOther:
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("catalogue %s is reserved by %s", cat.Code, st.User), nil)
		}
		if level == "" {
			level = model.LevelMinor
		}

		temp := cat.Version.NextInternal()
		out.emit("", model.ActionNewInternalVersionCreated, cat.Code, cat.Version.String(), temp.String(), "")
		out.emit("", model.ActionTempCatCreated, cat.Code, cat.Version.String(), temp.String(), "")
		cat.Reservation = model.ReservedProvisional{Level: level, User: cmd.user, BaseVersion: base, TempVersion: &temp}
		cat.Version = temp
		cat.UpdatedAt = w.now()
		return w.datasource.UpdateCatalogue(ctx, cat)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	w.announce(out)
	return nil
}

// requireReserveRequest fails unless user has a reserve request outstanding
// for the catalogue. A temporary version without one would never be
// confirmed or invalidated.
func (w *Worker) requireReserveRequest(ctx context.Context, code, user string) error {
	id, ok := w.tracker.outstanding(code, model.FamilyReserve)
	if !ok || id == "" {
		return apierror.NewAPIError(apierror.ErrPrecondition,
			fmt.Sprintf("catalogue %s has no outstanding reserve request from %s", code, user), nil)
	}
	req, err := w.datasource.GetPendingRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Requestor.Username != user {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("catalogue %s is being reserved by %s", code, req.Requestor.Username), nil)
	}
	return nil
}

// handleImportDone adopts an imported last internal version unless the
// catalogue was reserved again in the meantime.
func (w *Worker) handleImportDone(ctx context.Context, res ImportResult) {
	fields := logrus.Fields{"catalogue": res.Job.CatalogueCode, "request_id": res.Job.RequestID}
	if res.Err != nil {
		notification.NotifyError(fmt.Errorf("import last internal version of %s: %w", res.Job.CatalogueCode, res.Err))
		return
	}

	w.setStatus(model.WorkerOngoing)
	defer w.setStatus(model.WorkerWaiting)

	ctx, span := tracer.Start(ctx, "Worker.ImportDone", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("catalogue.code", res.Job.CatalogueCode))

	var out reconcileOutcome
	err := w.datasource.WithTx(ctx, func(ctx context.Context) error {
		cat, err := w.datasource.GetCatalogueByCode(ctx, res.Job.CatalogueCode)
		if err != nil {
			return err
		}
		if _, ok := cat.State().(model.NotReserved); !ok {
			logrus.WithFields(fields).Warn("catalogue reserved again, imported version ignored")
			return nil
		}
		if cat.Version == res.Version {
			return nil
		}

		old := cat.Version
		cat.Version = res.Version
		cat.UpdatedAt = w.now()
		if err := w.datasource.UpdateCatalogue(ctx, cat); err != nil {
			return err
		}
		out.emit(res.Job.RequestID, model.ActionLIVImported, cat.Code, old.String(), res.Version.String(), res.Job.Version.String())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(fmt.Errorf("apply imported version of %s: %w", res.Job.CatalogueCode, err))
		return
	}

	w.announce(out)
}
