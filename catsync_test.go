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
	"testing"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcat/catsync/config"
	"github.com/foodcat/catsync/database"
	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/internal/apierror"
	"github.com/foodcat/catsync/model"
	fanout "github.com/foodcat/catsync/notification"
)

const eventTimeout = 5 * time.Second

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "CatSync",
		DCF: config.DCFConfig{
			TestURL:         "https://dcf-test.example.org/api",
			Environment:     "TEST",
			PollIntervalSec: 3600,
			PollTimeoutMin:  60,
		},
		Worker: config.WorkerConfig{
			EventBuffer: 16,
			LockKey:     "catsync:test",
			LockTTLSec:  30,
		},
	}
}

func newTestDatasource(t *testing.T) database.Datasource {
	t.Helper()
	db, err := database.ConnectDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.Migrate(db, database.DriverSQLite, migrate.Up)
	require.NoError(t, err)
	return database.Datasource{Conn: db, Driver: database.DriverSQLite}
}

type harness struct {
	ds     database.Datasource
	remote *dcf.FakeClient
	engine *CatSync
	events *fanout.Subscription[model.Event]
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	config.MockConfig(testConfig())

	ds := newTestDatasource(t)
	remote := dcf.NewFakeClient()
	engine, err := NewCatSync(ds, remote, opts...)
	require.NoError(t, err)

	h := &harness{ds: ds, remote: remote, engine: engine, events: engine.Events().Subscribe(128)}
	t.Cleanup(engine.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Start(context.Background()))
}

func (h *harness) catalogue(t *testing.T, code string) *model.Catalogue {
	t.Helper()
	cat, err := h.ds.GetCatalogueByCode(context.Background(), code)
	require.NoError(t, err)
	return cat
}

func (h *harness) register(t *testing.T, code string) *model.Catalogue {
	t.Helper()
	_, err := h.engine.RegisterCatalogue(context.Background(), model.Catalogue{
		Code:          code,
		Name:          code + " catalogue",
		Version:       model.Version{Major: 1},
		CatalogueType: model.EnvironmentTest,
	})
	require.NoError(t, err)
	return h.catalogue(t, code)
}

func (h *harness) submit(t *testing.T, typ model.RequestType, code, user string) *model.PendingRequest {
	t.Helper()
	req := SubmitRequest{
		Type:          typ,
		Requestor:     model.Requestor{Username: user, Environment: model.EnvironmentTest},
		CatalogueCode: code,
	}
	if typ == model.RequestUploadXmlData {
		req.Attachment = "changes/" + code + ".xml"
	}
	pending, err := h.engine.Submit(context.Background(), req)
	require.NoError(t, err)
	return pending
}

func (h *harness) deliver(id string, status model.Status, response model.Response, log *model.PendingLog) {
	h.engine.Worker().Deliver(dcf.StatusUpdate{
		RequestID:  id,
		Report:     dcf.StatusReport{Status: status, Response: response, Log: log},
		ReceivedAt: time.Now().UTC(),
	})
}

// until collects events up to and including the first one matching pred.
func (h *harness) until(t *testing.T, pred func(model.Event) bool) []model.Event {
	t.Helper()
	var seen []model.Event
	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-h.events.C():
			seen = append(seen, ev)
			if pred(ev) {
				return seen
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for event, saw %d", len(seen))
			return nil
		}
	}
}

func (h *harness) untilStatus(t *testing.T, id string, status model.Status) []model.Event {
	t.Helper()
	return h.until(t, func(ev model.Event) bool {
		return ev.StatusChanged != nil && ev.StatusChanged.RequestID == id && ev.StatusChanged.NewStatus == status
	})
}

func (h *harness) untilAction(t *testing.T, code string, action model.ActionKind) []model.Event {
	t.Helper()
	return h.until(t, func(ev model.Event) bool {
		return ev.ActionPerformed != nil && ev.ActionPerformed.CatalogueCode == code && ev.ActionPerformed.Action == action
	})
}

// flush waits until every event queued so far has been processed. The worker
// is FIFO, so a forced edit on a scratch catalogue acts as a barrier.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if _, err := h.ds.GetCatalogueByCode(ctx, "BARRIER"); err != nil {
		h.register(t, "BARRIER")
		h.submit(t, model.RequestReserveMinor, "BARRIER", "barrier")
	}
	require.NoError(t, h.engine.ForceEdit(ctx, "BARRIER", "barrier", model.LevelMinor))
}

// reserve takes a catalogue through a successful reservation.
func (h *harness) reserve(t *testing.T, code, user string) *model.PendingRequest {
	t.Helper()
	pending := h.submit(t, model.RequestReserveMinor, code, user)
	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	h.untilAction(t, code, model.ActionTempCatConfirmed)
	return pending
}

func actionsFor(events []model.Event, code string) []model.ActionKind {
	var out []model.ActionKind
	for _, ev := range events {
		if ev.ActionPerformed != nil && ev.ActionPerformed.CatalogueCode == code {
			out = append(out, ev.ActionPerformed.Action)
		}
	}
	return out
}

func statusesFor(events []model.Event, id string) []model.Status {
	var out []model.Status
	for _, ev := range events {
		if ev.StatusChanged != nil && ev.StatusChanged.RequestID == id {
			out = append(out, ev.StatusChanged.NewStatus)
		}
	}
	return out
}

func TestReserveConfirmedAdoptsRemoteVersion(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	assert.Equal(t, "DCF-0001", pending.RequestID)
	assert.Equal(t, model.StatusWaiting, pending.Status)

	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.untilStatus(t, pending.RequestID, model.StatusQueued)

	cat := h.catalogue(t, "FOO")
	level, user, forced := cat.ForcedEdit()
	assert.True(t, forced)
	assert.Equal(t, model.LevelMinor, level)
	assert.Equal(t, "alice", user)
	assert.False(t, cat.IsTemporaryVersion())

	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, &model.PendingLog{LastInternalVersion: "v1.1"})
	events := h.untilAction(t, "FOO", model.ActionTempCatConfirmed)

	assert.Equal(t, []model.ActionKind{
		model.ActionNewInternalVersionCreated,
		model.ActionTempCatCreated,
		model.ActionTempCatConfirmed,
	}, actionsFor(events, "FOO"))

	cat = h.catalogue(t, "FOO")
	assert.True(t, cat.ReservedBy("alice"))
	assert.Equal(t, "1.1.0", cat.Version.String())
	assert.False(t, cat.IsTemporaryVersion())

	stored, err := h.engine.GetPendingRequest(context.Background(), pending.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.Equal(t, model.ResponseOK, stored.Response)
	assert.True(t, stored.Reconciled)

	history, err := h.engine.GetPendingRequestHistory(context.Background(), pending.RequestID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.StatusWaiting, history[0].Status)
	assert.Equal(t, model.StatusQueued, history[1].Status)
	assert.Equal(t, model.StatusCompleted, history[2].Status)

	_, outstanding := h.engine.worker.tracker.outstanding("FOO", model.FamilyReserve)
	assert.False(t, outstanding)
}

func TestSubmitSettledByDCFImmediately(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.remote.Answer(model.RequestReserveMinor, dcf.StatusReport{
		Status:   model.StatusCompleted,
		Response: model.ResponseOK,
		Log:      &model.PendingLog{LastInternalVersion: "1.1.0"},
	})

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	h.untilAction(t, "FOO", model.ActionTempCatConfirmed)

	stored, err := h.engine.GetPendingRequest(context.Background(), pending.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.Equal(t, model.ResponseOK, stored.Response)

	cat := h.catalogue(t, "FOO")
	assert.True(t, cat.ReservedBy("alice"))
	assert.Equal(t, "1.1.0", cat.Version.String())
	assert.NotContains(t, h.engine.Polling(), pending.RequestID)
}

func TestSubmitTerminalWithoutResponseIsPolled(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.remote.Answer(model.RequestReserveMinor, dcf.StatusReport{Status: model.StatusCompleted})

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	assert.Contains(t, h.engine.Polling(), pending.RequestID)
	h.flush(t)

	stored, err := h.engine.GetPendingRequest(context.Background(), pending.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, stored.Status)
	assert.Equal(t, model.ReservationNone, h.catalogue(t, "FOO").State().Kind())
}

func TestReserveErrorRestoresCatalogue(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	pending := h.submit(t, model.RequestReserveMajor, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseError, nil)
	events := h.untilStatus(t, pending.RequestID, model.StatusCompleted)

	cat := h.catalogue(t, "FOO")
	assert.Equal(t, model.ReservationNone, cat.State().Kind())
	_, _, forced := cat.ForcedEdit()
	assert.False(t, forced)
	assert.False(t, cat.IsTemporaryVersion())
	assert.Equal(t, "1.0.0", cat.Version.String())

	h.flush(t)
	events = append(events, h.untilAction(t, "BARRIER", model.ActionTempCatCreated)...)
	assert.Empty(t, actionsFor(events, "FOO"))
}

func TestForcedEditInvalidatedOnError(t *testing.T) {
	tests := []struct {
		name     string
		status   model.Status
		response model.Response
		want     model.ActionKind
	}{
		{"completed with error", model.StatusCompleted, model.ResponseError, model.ActionTempCatInvalidNoReserve},
		{"error status", model.StatusError, "", model.ActionTempCatInvalidNoReserve},
		{"ambiguous", model.StatusCompleted, model.ResponseAmbiguous, model.ActionTempCatInvalidAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(t)
			h.register(t, "FOO")

			pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
			require.NoError(t, h.engine.ForceEdit(context.Background(), "FOO", "alice", model.LevelMinor))
			assert.True(t, h.catalogue(t, "FOO").IsTemporaryVersion())

			h.deliver(pending.RequestID, model.StatusQueued, "", nil)
			h.deliver(pending.RequestID, tt.status, tt.response, nil)
			events := h.untilAction(t, "FOO", tt.want)

			assert.NotContains(t, actionsFor(events, "FOO"), model.ActionTempCatConfirmed)

			cat := h.catalogue(t, "FOO")
			assert.False(t, cat.IsTemporaryVersion())
			assert.Equal(t, model.ReservationNone, cat.State().Kind())
			assert.Equal(t, "1.0.0", cat.Version.String())
		})
	}
}

func TestForcedEditConfirmedKeepsTemporaryVersion(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	pending := h.submit(t, model.RequestReserveMajor, "FOO", "alice")
	require.NoError(t, h.engine.ForceEdit(context.Background(), "FOO", "alice", model.LevelMajor))

	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	events := h.untilAction(t, "FOO", model.ActionTempCatConfirmed)

	assert.Equal(t, []model.ActionKind{
		model.ActionNewInternalVersionCreated,
		model.ActionTempCatCreated,
		model.ActionTempCatConfirmed,
	}, actionsFor(events, "FOO"))

	cat := h.catalogue(t, "FOO")
	assert.True(t, cat.ReservedBy("alice"))
	assert.Equal(t, "1.0.1", cat.Version.String())
	assert.False(t, cat.IsTemporaryVersion())
}

func TestReserveLostToNewerInternalVersion(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.remote.SetCatalogue(dcf.CatalogueSnapshot{Code: "FOO", Version: model.Version{Major: 1, Internal: 5}})

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	require.NoError(t, h.engine.ForceEdit(context.Background(), "FOO", "alice", model.LevelMinor))
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseError, &model.PendingLog{LastInternalVersion: "1.0.5"})

	events := h.untilAction(t, "FOO", model.ActionLIVImported)
	assert.Equal(t, []model.ActionKind{
		model.ActionNewInternalVersionCreated,
		model.ActionTempCatCreated,
		model.ActionLIVImportStarted,
		model.ActionTempCatInvalidLIV,
		model.ActionLIVImported,
	}, actionsFor(events, "FOO"))

	cat := h.catalogue(t, "FOO")
	assert.Equal(t, "1.0.5", cat.Version.String())
	assert.Equal(t, model.ReservationNone, cat.State().Kind())
	assert.False(t, cat.IsTemporaryVersion())
}

func TestImportIgnoredWhenCatalogueReservedAgain(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, WithImporter(func(ctx context.Context, job ImportJob) (model.Version, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return model.Version{}, ctx.Err()
		}
		return job.Version, nil
	}))
	h.start(t)
	h.register(t, "FOO")

	first := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	h.deliver(first.RequestID, model.StatusCompleted, model.ResponseError, &model.PendingLog{LastInternalVersion: "1.0.9"})
	h.untilAction(t, "FOO", model.ActionLIVImportStarted)

	h.submit(t, model.RequestReserveMinor, "FOO", "bob")
	require.NoError(t, h.engine.ForceEdit(context.Background(), "FOO", "bob", model.LevelMinor))
	close(release)
	h.flush(t)
	time.Sleep(50 * time.Millisecond)
	h.flush(t)

	cat := h.catalogue(t, "FOO")
	assert.Equal(t, "1.0.1", cat.Version.String())
	_, user, forced := cat.ForcedEdit()
	assert.True(t, forced)
	assert.Equal(t, "bob", user)
}

func TestPublishMajorOnReservedCatalogue(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.reserve(t, "FOO", "alice")

	pending := h.submit(t, model.RequestPublishMajor, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	h.untilAction(t, "FOO", model.ActionCataloguePublished)

	cat := h.catalogue(t, "FOO")
	assert.Equal(t, model.CataloguePublished, cat.Status)
	assert.Equal(t, model.LevelMajor, cat.PublishedLevel)
	assert.Equal(t, "2.0.0", cat.Version.String())
	assert.Equal(t, model.ReservationNone, cat.State().Kind())
}

func TestPublishErrorLeavesCatalogue(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.reserve(t, "FOO", "alice")

	pending := h.submit(t, model.RequestPublishMinor, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusError, model.ResponseError, nil)
	h.untilStatus(t, pending.RequestID, model.StatusError)

	cat := h.catalogue(t, "FOO")
	assert.Equal(t, model.CatalogueDraft, cat.Status)
	assert.True(t, cat.ReservedBy("alice"))
}

func TestUnreserve(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.reserve(t, "FOO", "alice")

	failed := h.submit(t, model.RequestUnreserve, "FOO", "alice")
	h.deliver(failed.RequestID, model.StatusCompleted, model.ResponseError, nil)
	h.untilStatus(t, failed.RequestID, model.StatusCompleted)
	assert.True(t, h.catalogue(t, "FOO").ReservedBy("alice"))

	pending := h.submit(t, model.RequestUnreserve, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	h.untilAction(t, "FOO", model.ActionCatalogueUnreserved)

	cat := h.catalogue(t, "FOO")
	assert.Equal(t, model.ReservationNone, cat.State().Kind())
	_, _, forced := cat.ForcedEdit()
	assert.False(t, forced)
}

func TestUploadMarksChangeFileApplied(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	cat := h.register(t, "FOO")
	h.reserve(t, "FOO", "alice")

	pending := h.submit(t, model.RequestUploadXmlData, "FOO", "alice")
	files, err := h.ds.GetPendingChangeFiles(context.Background(), cat.CatalogueID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, pending.RequestID, files[0].RequestID)
	assert.Equal(t, "changes/FOO.xml", files[0].Attachment)

	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	h.untilAction(t, "FOO", model.ActionChangeFileApplied)

	file, err := h.ds.GetChangeFile(context.Background(), files[0].ChangeFileID)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeFileApplied, file.Status)
	assert.NotNil(t, file.AppliedAt)
}

func TestUploadErrorKeepsChangeFilePending(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	cat := h.register(t, "FOO")
	h.reserve(t, "FOO", "alice")

	pending := h.submit(t, model.RequestUploadXmlData, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseError, nil)
	h.untilStatus(t, pending.RequestID, model.StatusCompleted)

	files, err := h.ds.GetPendingChangeFiles(context.Background(), cat.CatalogueID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestDuplicateQueuedIsDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	events := h.untilAction(t, "FOO", model.ActionTempCatConfirmed)

	assert.Equal(t, []model.Status{model.StatusQueued, model.StatusCompleted}, statusesFor(events, pending.RequestID))
}

func TestTerminalReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	h.deliver(pending.RequestID, model.StatusError, model.ResponseError, nil)
	h.flush(t)

	events := h.untilAction(t, "BARRIER", model.ActionTempCatCreated)
	created := 0
	for _, a := range actionsFor(events, "FOO") {
		if a == model.ActionNewInternalVersionCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, []model.Status{model.StatusQueued, model.StatusCompleted}, statusesFor(events, pending.RequestID))

	cat := h.catalogue(t, "FOO")
	assert.True(t, cat.ReservedBy("alice"))
	assert.Equal(t, "1.0.1", cat.Version.String())
}

func TestStatusOrderIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	h.deliver(pending.RequestID, model.StatusDownloading, "", nil)
	h.deliver(pending.RequestID, model.StatusQueued, "", nil)
	h.deliver(pending.RequestID, model.StatusWaiting, "", nil)
	h.deliver(pending.RequestID, model.StatusCompleted, model.ResponseOK, nil)
	events := h.untilStatus(t, pending.RequestID, model.StatusCompleted)

	statuses := statusesFor(events, pending.RequestID)
	assert.Equal(t, []model.Status{model.StatusDownloading, model.StatusCompleted}, statuses)
	for i := 1; i < len(statuses); i++ {
		assert.True(t, statuses[i-1].Advances(statuses[i]))
	}
}

func TestUnknownRequestIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.deliver("DCF-9999", model.StatusCompleted, model.ResponseOK, nil)
	h.flush(t)

	events := h.untilAction(t, "BARRIER", model.ActionTempCatCreated)
	assert.Empty(t, statusesFor(events, "DCF-9999"))
}

func TestAtMostOneOutstandingRequest(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")

	first := h.submit(t, model.RequestReserveMinor, "FOO", "alice")

	_, err := h.engine.Submit(context.Background(), SubmitRequest{
		Type:          model.RequestReserveMajor,
		Requestor:     model.Requestor{Username: "alice", Environment: model.EnvironmentTest},
		CatalogueCode: "FOO",
	})
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
	assert.Len(t, h.remote.Submissions(), 1)

	requests, err := h.engine.GetPendingRequests(context.Background(), model.PendingRequestFilter{CatalogueCode: "FOO"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, first.RequestID, requests[0].RequestID)
}

func TestRejectedSubmissionIsNotStored(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.register(t, "FOO")
	h.remote.Reject(model.RequestReserveMinor, &dcf.RejectedError{StatusCode: 401, Reason: "bad credentials"})

	_, err := h.engine.Submit(context.Background(), SubmitRequest{
		Type:          model.RequestReserveMinor,
		Requestor:     model.Requestor{Username: "alice"},
		CatalogueCode: "FOO",
	})
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrRemoteRejected))
	assert.True(t, errors.Is(err, dcf.ErrRemoteRejected))

	requests, err := h.engine.GetPendingRequests(context.Background(), model.PendingRequestFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, requests)

	h.remote.Reject(model.RequestReserveMinor, nil)
	pending := h.submit(t, model.RequestReserveMinor, "FOO", "alice")
	assert.Equal(t, "DCF-0001", pending.RequestID)
}

func TestStartResumesUnsettledRequests(t *testing.T) {
	h := newHarness(t)
	h.register(t, "FOO")
	h.register(t, "BAR")

	now := time.Now().UTC()
	unreconciled := &model.PendingRequest{
		RequestID: "DCF-0100",
		Type:      model.RequestReserveMinor,
		Requestor: model.Requestor{Username: "alice", Environment: model.EnvironmentTest},
		Data:      model.RequestData{{Key: model.DataCatalogueCode, Value: "FOO"}},
		Status:    model.StatusCompleted,
		Response:  model.ResponseOK,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inFlight := &model.PendingRequest{
		RequestID:  "DCF-0101",
		Type:       model.RequestReserveMinor,
		Requestor:  model.Requestor{Username: "bob", Environment: model.EnvironmentTest},
		Data:       model.RequestData{{Key: model.DataCatalogueCode, Value: "BAR"}},
		Status:     model.StatusQueued,
		Reconciled: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, h.ds.RecordPendingRequest(context.Background(), unreconciled))
	require.NoError(t, h.ds.RecordPendingRequest(context.Background(), inFlight))

	h.start(t)
	h.untilAction(t, "FOO", model.ActionTempCatConfirmed)

	stored, err := h.engine.GetPendingRequest(context.Background(), "DCF-0100")
	require.NoError(t, err)
	assert.True(t, stored.Reconciled)
	assert.True(t, h.catalogue(t, "FOO").ReservedBy("alice"))

	assert.Equal(t, []string{"DCF-0101"}, h.engine.poller.Tracked())
	id, outstanding := h.engine.worker.tracker.outstanding("BAR", model.FamilyReserve)
	assert.True(t, outstanding)
	assert.Equal(t, "DCF-0101", id)
}

func TestPollerDrivesWorker(t *testing.T) {
	cfg := testConfig()
	cfg.DCF.PollIntervalSec = 1
	h := newHarness(t)
	config.MockConfig(cfg)
	engine, err := NewCatSync(h.ds, h.remote)
	require.NoError(t, err)
	t.Cleanup(engine.Stop)
	sub := engine.Events().Subscribe(32)
	require.NoError(t, engine.Start(context.Background()))

	_, err = engine.RegisterCatalogue(context.Background(), model.Catalogue{Code: "FOO", CatalogueType: model.EnvironmentTest})
	require.NoError(t, err)

	id := h.remote.NextID()
	h.remote.Script(id,
		dcf.StatusReport{Status: model.StatusQueued},
		dcf.StatusReport{Status: model.StatusCompleted, Response: model.ResponseOK},
	)
	_, err = engine.Submit(context.Background(), SubmitRequest{
		Type:          model.RequestReserveMinor,
		Requestor:     model.Requestor{Username: "alice"},
		CatalogueCode: "FOO",
	})
	require.NoError(t, err)

	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-sub.C():
			if ev.StatusChanged != nil && ev.StatusChanged.NewStatus == model.StatusCompleted {
				cat, err := h.ds.GetCatalogueByCode(context.Background(), "FOO")
				require.NoError(t, err)
				assert.True(t, cat.ReservedBy("alice"))
				return
			}
		case <-timer.C:
			t.Fatal("poller never delivered the terminal status")
		}
	}
}

func TestWorkerStatusAccessors(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, model.WorkerWaiting, h.engine.WorkerState())
	assert.NotNil(t, h.engine.WorkerStatus())
}
