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
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/foodcat/catsync/config"
	"github.com/foodcat/catsync/database"
	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/internal/apierror"
	redlock "github.com/foodcat/catsync/internal/lock"
	"github.com/foodcat/catsync/model"
	fanout "github.com/foodcat/catsync/notification"
)

// CatSync is the composition root of the synchronization engine. It owns the
// single worker, the status poller and the two event brokers.
type CatSync struct {
	datasource database.IDataSource
	remote     dcf.Client
	worker     *Worker
	poller     *dcf.Poller
	events     *fanout.Broker[model.Event]
	status     *fanout.Broker[model.WorkerStatus]
	config     *config.Configuration
	now        func() time.Time
}

type options struct {
	importFn ImportFunc
	redis    redis.UniversalClient
	now      func() time.Time
}

// Option configures NewCatSync.
type Option func(*options)

// WithImporter replaces the default LIV importer, which downloads through the
// DCF client.
func WithImporter(fn ImportFunc) Option {
	return func(o *options) {
		o.importFn = fn
	}
}

// WithRedis enables the cross-process worker lock.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithTimeSource overrides the clock used for timestamps.
func WithTimeSource(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewCatSync wires the engine around a datasource and a DCF client.
//
// Parameters:
// - db database.IDataSource: The datasource for requests, catalogues and change files.
// - remote dcf.Client: The DCF client used to submit and poll requests.
//
// Returns:
// - *CatSync: A stopped engine. Call Start to begin processing.
// - error: An error if the configuration is not loaded.
func NewCatSync(db database.IDataSource, remote dcf.Client, opts ...Option) (*CatSync, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	o := options{importFn: DownloadImporter(remote), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	events := fanout.NewBroker[model.Event]()
	status := fanout.NewBroker[model.WorkerStatus]()

	workerOpts := []WorkerOption{WithImportFunc(o.importFn), WithClock(o.now)}
	if o.redis != nil {
		locker := redlock.NewLocker(o.redis, configuration.Worker.LockKey, model.GenerateUUIDWithSuffix("worker"))
		workerOpts = append(workerOpts,
			WithLocker(locker, time.Duration(configuration.Worker.LockTTLSec)*time.Second),
			WithLockWait(time.Duration(configuration.Worker.LockWaitSec)*time.Second))
	}
	worker := NewWorker(db, events, status, configuration.Worker.EventBuffer, workerOpts...)

	return &CatSync{
		datasource: db,
		remote:     remote,
		worker:     worker,
		poller:     dcf.NewPoller(remote, worker, configuration.DCF.PollInterval(), configuration.DCF.PollTimeout()),
		events:     events,
		status:     status,
		config:     configuration,
		now:        o.now,
	}, nil
}

// Start runs the worker and resumes every request left unsettled by a
// previous run: slots are re-bound, unreconciled requests retried and
// non-terminal ones polled again.
func (l *CatSync) Start(ctx context.Context) error {
	if err := l.worker.Start(ctx); err != nil {
		return err
	}

	unsettled, err := l.datasource.GetUnsettledPendingRequests(ctx)
	if err != nil {
		l.worker.Stop()
		return err
	}

	for i := range unsettled {
		req := &unsettled[i]
		l.worker.tracker.bind(req.CatalogueCode(), req.Type.Family(), req.RequestID)
		if !req.Reconciled {
			l.worker.Retry(req.RequestID)
		}
		if !req.IsTerminal() {
			l.poller.Track(req.RequestID, req.Requestor.Environment, req.Status)
		}
	}
	if len(unsettled) > 0 {
		logrus.Infof("Resumed %d unsettled pending requests", len(unsettled))
	}
	return nil
}

// Stop stops polling and the worker, then closes both brokers.
func (l *CatSync) Stop() {
	l.poller.Stop()
	l.worker.Stop()
	l.events.Close()
	l.status.Close()
}

// Events is the stream of status-changed and action-performed events.
func (l *CatSync) Events() *fanout.Broker[model.Event] {
	return l.events
}

// WorkerStatus is the stream of ONGOING/WAITING changes.
func (l *CatSync) WorkerStatus() *fanout.Broker[model.WorkerStatus] {
	return l.status
}

func (l *CatSync) WorkerState() model.WorkerStatus {
	return l.worker.Status()
}

// Polling returns the ids of the requests whose status is being polled.
func (l *CatSync) Polling() []string {
	return l.poller.Tracked()
}

// Worker exposes the event loop, mainly so status updates can be delivered
// from sources other than the poller.
func (l *CatSync) Worker() *Worker {
	return l.worker
}

// ForceEdit starts editing a catalogue before DCF confirmed its reservation.
// The user must have a reserve request outstanding for the catalogue.
func (l *CatSync) ForceEdit(ctx context.Context, code, user string, level model.Level) error {
	if user == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "user is required", nil)
	}
	if _, err := l.lookupCatalogue(ctx, code); err != nil {
		return err
	}
	return l.worker.ForceEdit(ctx, code, user, level)
}

// RegisterCatalogue records a catalogue obtained from a DCF download.
func (l *CatSync) RegisterCatalogue(ctx context.Context, cat model.Catalogue) (model.Catalogue, error) {
	err := validation.ValidateStruct(&cat,
		validation.Field(&cat.Code, validation.Required),
		validation.Field(&cat.CatalogueType, validation.In(model.EnvironmentProduction, model.EnvironmentTest)),
	)
	if err != nil {
		return model.Catalogue{}, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if cat.CatalogueType == "" {
		cat.CatalogueType = model.Environment(l.config.DCF.Environment)
	}
	if cat.Version.IsZero() {
		cat.Version = model.Version{Major: 1}
	}
	// Reservations are only ever written by the worker.
	cat.Reservation = model.NotReserved{}
	return l.datasource.CreateCatalogue(ctx, cat)
}

func (l *CatSync) GetCatalogue(ctx context.Context, code string) (*model.Catalogue, error) {
	return l.lookupCatalogue(ctx, code)
}

func (l *CatSync) GetCatalogues(ctx context.Context, limit, offset int) ([]model.Catalogue, error) {
	return l.datasource.GetAllCatalogues(ctx, limit, offset)
}

func (l *CatSync) GetPendingRequest(ctx context.Context, id string) (*model.PendingRequest, error) {
	return l.datasource.GetPendingRequest(ctx, id)
}

func (l *CatSync) GetPendingRequests(ctx context.Context, filter model.PendingRequestFilter, limit, offset int) ([]model.PendingRequest, error) {
	return l.datasource.GetPendingRequests(ctx, filter, limit, offset)
}

func (l *CatSync) GetPendingRequestHistory(ctx context.Context, id string) ([]model.PendingRequestLogEntry, error) {
	if _, err := l.datasource.GetPendingRequest(ctx, id); err != nil {
		return nil, err
	}
	return l.datasource.GetPendingRequestHistory(ctx, id)
}
