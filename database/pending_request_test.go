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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcat/catsync/internal/apierror"
	"github.com/foodcat/catsync/model"
)

func fakePendingRequest(code string) *model.PendingRequest {
	req := &model.PendingRequest{
		RequestID: gofakeit.Numerify("DCF-######"),
		Type:      model.RequestReserveMinor,
		Requestor: model.Requestor{Username: gofakeit.Username(), Environment: model.EnvironmentTest},
		Status:    model.StatusWaiting,
	}
	req.Data.Set(model.DataCatalogueCode, code)
	req.Data.Set(model.DataReservationNote, gofakeit.Sentence(4))
	return req
}

func pendingRequestRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"request_id", "request_type", "catalogue_code", "username", "environment", "data", "status", "response", "log", "reconciled", "created_at", "updated_at"})
}

func TestRecordPendingRequest_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	req := fakePendingRequest("FOOD-1")
	data, err := json.Marshal(req.Data)
	assert.NoError(t, err)

	mock.ExpectExec("INSERT INTO pending_requests").
		WithArgs(req.RequestID, req.Type, "FOOD-1", req.Requestor.Username, req.Requestor.Environment, string(data), req.Status, req.Response, sql.NullString{}, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordPendingRequest(context.Background(), req)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now(), req.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPendingRequest_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO pending_requests").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	err = ds.RecordPendingRequest(context.Background(), fakePendingRequest("FOOD-1"))
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestGetPendingRequest_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()
	rows := pendingRequestRows().
		AddRow("DCF-1", "PUBLISH_MAJOR", "FOOD-1", "alice", "TEST", `[{"key":"catalogueCode","value":"FOOD-1"}]`, "COMPLETED", "OK", `{"last_internal_version":"2.0.0"}`, true, now, now)

	mock.ExpectQuery("SELECT (.+) FROM pending_requests WHERE request_id = \\$1").
		WithArgs("DCF-1").
		WillReturnRows(rows)

	req, err := ds.GetPendingRequest(context.Background(), "DCF-1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestPublishMajor, req.Type)
	assert.Equal(t, "FOOD-1", req.CatalogueCode())
	assert.Equal(t, model.ResponseOK, req.Response)
	require.NotNil(t, req.Log)
	assert.Equal(t, "2.0.0", req.Log.LastInternalVersion)
	assert.True(t, req.Reconciled)
}

func TestGetPendingRequest_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM pending_requests WHERE request_id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetPendingRequest(context.Background(), "missing")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestUpdatePendingRequest_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE pending_requests").
		WithArgs(model.StatusQueued, model.Response(""), sql.NullString{}, true, sqlmock.AnyArg(), "DCF-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdatePendingRequest(context.Background(), &model.PendingRequest{RequestID: "DCF-9", Status: model.StatusQueued, Reconciled: true})
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestGetPendingRequests_FilterPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM pending_requests WHERE catalogue_code = \\$1 AND status = \\$2 ORDER BY created_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("FOOD-1", model.StatusQueued, 20, 0).
		WillReturnRows(pendingRequestRows())

	reqs, err := ds.GetPendingRequests(context.Background(), model.PendingRequestFilter{CatalogueCode: "FOOD-1", Status: model.StatusQueued}, 20, 0)
	assert.NoError(t, err)
	assert.Empty(t, reqs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingRequestLifecycle_SQLite(t *testing.T) {
	ds := newSQLiteDatasource(t)
	ctx := context.Background()

	settled := fakePendingRequest("FOOD-1")
	settled.Status = model.StatusCompleted
	settled.Response = model.ResponseOK
	settled.Reconciled = true
	require.NoError(t, ds.RecordPendingRequest(ctx, settled))

	open := fakePendingRequest("FOOD-2")
	require.NoError(t, ds.RecordPendingRequest(ctx, open))

	unreconciled := fakePendingRequest("FOOD-3")
	unreconciled.Status = model.StatusError
	unreconciled.Response = model.ResponseError
	require.NoError(t, ds.RecordPendingRequest(ctx, unreconciled))

	unsettled, err := ds.GetUnsettledPendingRequests(ctx)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range unsettled {
		ids = append(ids, r.RequestID)
	}
	assert.ElementsMatch(t, []string{open.RequestID, unreconciled.RequestID}, ids)

	open.Status = model.StatusQueued
	open.Log = &model.PendingLog{MacroOperation: "reserve"}
	require.NoError(t, ds.UpdatePendingRequest(ctx, open))

	got, err := ds.GetPendingRequest(ctx, open.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Equal(t, open.Data, got.Data)
	assert.Equal(t, "reserve", got.Log.MacroOperation)

	byCode, err := ds.GetPendingRequests(ctx, model.PendingRequestFilter{CatalogueCode: "FOOD-2"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, open.RequestID, byCode[0].RequestID)
}

func TestAppendPendingRequestLog_Idempotent(t *testing.T) {
	ds := newSQLiteDatasource(t)
	ctx := context.Background()

	req := fakePendingRequest("FOOD-1")
	require.NoError(t, ds.RecordPendingRequest(ctx, req))

	inserted, err := ds.AppendPendingRequestLog(ctx, req.HistoryEntry(time.Now()))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = ds.AppendPendingRequestLog(ctx, req.HistoryEntry(time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)

	req.Status = model.StatusCompleted
	req.Response = model.ResponseOK
	inserted, err = ds.AppendPendingRequestLog(ctx, req.HistoryEntry(time.Now()))
	require.NoError(t, err)
	assert.True(t, inserted)

	history, err := ds.GetPendingRequestHistory(ctx, req.RequestID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusWaiting, history[0].Status)
	assert.Equal(t, model.StatusCompleted, history[1].Status)
	assert.Equal(t, model.ResponseOK, history[1].Response)
}
