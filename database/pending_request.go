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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foodcat/catsync/internal/apierror"
	"github.com/foodcat/catsync/model"
	"go.opentelemetry.io/otel"
)

const pendingRequestColumns = `request_id, request_type, catalogue_code, username, environment, data, status, response, log, reconciled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func encodeLog(l *model.PendingLog) (sql.NullString, error) {
	if l == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeLog(s sql.NullString) (*model.PendingLog, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var l model.PendingLog
	if err := json.Unmarshal([]byte(s.String), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanPendingRequest(row rowScanner) (*model.PendingRequest, error) {
	var (
		req          model.PendingRequest
		catalogueRef string
		data         string
		log          sql.NullString
	)
	err := row.Scan(
		&req.RequestID,
		&req.Type,
		&catalogueRef,
		&req.Requestor.Username,
		&req.Requestor.Environment,
		&data,
		&req.Status,
		&req.Response,
		&log,
		&req.Reconciled,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &req.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request data: %w", err)
	}
	if req.Log, err = decodeLog(log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request log: %w", err)
	}
	if req.Data.Value(model.DataCatalogueCode) == "" && catalogueRef != "" {
		req.Data.Set(model.DataCatalogueCode, catalogueRef)
	}
	return &req, nil
}

// RecordPendingRequest stores a newly submitted request.
func (d Datasource) RecordPendingRequest(ctx context.Context, req *model.PendingRequest) error {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Saving pending request to db")
	defer span.End()

	data, err := json.Marshal(req.Data)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal request data", err)
	}
	log, err := encodeLog(req.Log)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal request log", err)
	}

	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}

	_, err = d.conn(ctx).ExecContext(ctx, `
		INSERT INTO pending_requests (`+pendingRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.RequestID,
		req.Type,
		req.CatalogueCode(),
		req.Requestor.Username,
		req.Requestor.Environment,
		string(data),
		req.Status,
		req.Response,
		log,
		req.Reconciled,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("pending request %s already exists", req.RequestID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record pending request", err)
	}
	return nil
}

// GetPendingRequest retrieves a pending request by its DCF request id.
func (d Datasource) GetPendingRequest(ctx context.Context, id string) (*model.PendingRequest, error) {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Fetching pending request from db")
	defer span.End()

	row := d.conn(ctx).QueryRowContext(ctx, `
		SELECT `+pendingRequestColumns+`
		FROM pending_requests
		WHERE request_id = $1`, id)

	req, err := scanPendingRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("pending request with ID '%s' not found", id), err)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending request", err)
	}
	return req, nil
}

// UpdatePendingRequest persists the mutable fields of a request.
func (d Datasource) UpdatePendingRequest(ctx context.Context, req *model.PendingRequest) error {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Updating pending request")
	defer span.End()

	log, err := encodeLog(req.Log)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal request log", err)
	}
	req.UpdatedAt = time.Now().UTC()

	result, err := d.conn(ctx).ExecContext(ctx, `
		UPDATE pending_requests
		SET status = $1, response = $2, log = $3, reconciled = $4, updated_at = $5
		WHERE request_id = $6`,
		req.Status,
		req.Response,
		log,
		req.Reconciled,
		req.UpdatedAt,
		req.RequestID,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pending request", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("pending request with ID '%s' not found", req.RequestID), nil)
	}
	return nil
}

// GetPendingRequests lists requests newest first, narrowed by filter.
func (d Datasource) GetPendingRequests(ctx context.Context, filter model.PendingRequestFilter, limit, offset int) ([]model.PendingRequest, error) {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Fetching pending requests")
	defer span.End()

	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CatalogueCode != "" {
		add("catalogue_code = $%d", filter.CatalogueCode)
	}
	if filter.Type != "" {
		add("request_type = $%d", filter.Type)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	query := `SELECT ` + pendingRequestColumns + ` FROM pending_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := d.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending requests", err)
	}
	return collectPendingRequests(rows)
}

// GetUnsettledPendingRequests returns every request that still needs work:
// not yet terminal, or terminal but never reconciled. Oldest first.
func (d Datasource) GetUnsettledPendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Fetching unsettled pending requests")
	defer span.End()

	rows, err := d.conn(ctx).QueryContext(ctx, `
		SELECT `+pendingRequestColumns+`
		FROM pending_requests
		WHERE status NOT IN ($1, $2) OR reconciled = $3
		ORDER BY created_at ASC`,
		model.StatusCompleted, model.StatusError, false,
	)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unsettled pending requests", err)
	}
	return collectPendingRequests(rows)
}

func collectPendingRequests(rows *sql.Rows) ([]model.PendingRequest, error) {
	defer func() { _ = rows.Close() }()

	requests := []model.PendingRequest{}
	for rows.Next() {
		req, err := scanPendingRequest(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pending request", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over pending requests", err)
	}
	return requests, nil
}

// AppendPendingRequestLog adds one history row. A row with the same
// (request_id, seq) is left untouched and false is returned.
func (d Datasource) AppendPendingRequestLog(ctx context.Context, entry model.PendingRequestLogEntry) (bool, error) {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Appending pending request history")
	defer span.End()

	log, err := encodeLog(entry.Log)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal request log", err)
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	result, err := d.conn(ctx).ExecContext(ctx, `
		INSERT INTO pending_request_logs (request_id, seq, status, response, log, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id, seq) DO NOTHING`,
		entry.RequestID,
		entry.Seq,
		entry.Status,
		entry.Response,
		log,
		entry.RecordedAt,
	)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append pending request history", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return n > 0, nil
}

// GetPendingRequestHistory returns the status history of a request in order.
func (d Datasource) GetPendingRequestHistory(ctx context.Context, id string) ([]model.PendingRequestLogEntry, error) {
	ctx, span := otel.Tracer("PendingRequest").Start(ctx, "Fetching pending request history")
	defer span.End()

	rows, err := d.conn(ctx).QueryContext(ctx, `
		SELECT request_id, seq, status, response, log, recorded_at
		FROM pending_request_logs
		WHERE request_id = $1
		ORDER BY seq ASC`, id)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending request history", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []model.PendingRequestLogEntry{}
	for rows.Next() {
		var (
			entry model.PendingRequestLogEntry
			log   sql.NullString
		)
		if err := rows.Scan(&entry.RequestID, &entry.Seq, &entry.Status, &entry.Response, &log, &entry.RecordedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pending request history", err)
		}
		if entry.Log, err = decodeLog(log); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal request log", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over history", err)
	}
	return entries, nil
}
