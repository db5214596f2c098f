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
	"errors"
	"fmt"
	"time"

	"github.com/foodcat/catsync/internal/apierror"
	"github.com/foodcat/catsync/model"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
)

const changeFileColumns = `change_file_id, catalogue_id, attachment, status, request_id, created_at, applied_at`

func scanChangeFile(row rowScanner) (*model.ChangeFile, error) {
	var (
		file      model.ChangeFile
		appliedAt sql.NullTime
	)
	if err := row.Scan(&file.ChangeFileID, &file.CatalogueID, &file.Attachment, &file.Status, &file.RequestID, &file.CreatedAt, &appliedAt); err != nil {
		return nil, err
	}
	if appliedAt.Valid {
		file.AppliedAt = ptr.Time(appliedAt.Time)
	}
	return &file, nil
}

func (d Datasource) RecordChangeFile(ctx context.Context, file model.ChangeFile) (model.ChangeFile, error) {
	ctx, span := otel.Tracer("ChangeFile").Start(ctx, "Saving change file to db")
	defer span.End()

	if file.ChangeFileID == "" {
		file.ChangeFileID = model.GenerateUUIDWithSuffix("chg")
	}
	if file.Status == "" {
		file.Status = model.ChangeFilePending
	}
	file.CreatedAt = time.Now().UTC()

	var appliedAt sql.NullTime
	if file.AppliedAt != nil {
		appliedAt = sql.NullTime{Time: *file.AppliedAt, Valid: true}
	}

	_, err := d.conn(ctx).ExecContext(ctx, `
		INSERT INTO change_files (`+changeFileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		file.ChangeFileID,
		file.CatalogueID,
		file.Attachment,
		file.Status,
		file.RequestID,
		file.CreatedAt,
		appliedAt,
	)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return model.ChangeFile{}, apierror.NewAPIError(apierror.ErrConflict, "change file already exists", err)
		}
		return model.ChangeFile{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record change file", err)
	}
	return file, nil
}

func (d Datasource) GetChangeFile(ctx context.Context, id string) (*model.ChangeFile, error) {
	ctx, span := otel.Tracer("ChangeFile").Start(ctx, "Fetching change file")
	defer span.End()

	row := d.conn(ctx).QueryRowContext(ctx, `
		SELECT `+changeFileColumns+`
		FROM change_files
		WHERE change_file_id = $1`, id)
	file, err := scanChangeFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("change file with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve change file", err)
	}
	return file, nil
}

// GetPendingChangeFiles lists the change files of a catalogue that DCF has not applied yet.
func (d Datasource) GetPendingChangeFiles(ctx context.Context, catalogueID string) ([]model.ChangeFile, error) {
	ctx, span := otel.Tracer("ChangeFile").Start(ctx, "Fetching pending change files")
	defer span.End()

	rows, err := d.conn(ctx).QueryContext(ctx, `
		SELECT `+changeFileColumns+`
		FROM change_files
		WHERE catalogue_id = $1 AND status = $2
		ORDER BY created_at ASC`, catalogueID, model.ChangeFilePending)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve change files", err)
	}
	defer func() { _ = rows.Close() }()

	files := []model.ChangeFile{}
	for rows.Next() {
		file, err := scanChangeFile(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan change file", err)
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over change files", err)
	}
	return files, nil
}

// MarkChangeFilesApplied flips the pending change files uploaded by requestID
// for the catalogue to APPLIED.
func (d Datasource) MarkChangeFilesApplied(ctx context.Context, catalogueID, requestID string, appliedAt time.Time) (int64, error) {
	ctx, span := otel.Tracer("ChangeFile").Start(ctx, "Marking change files applied")
	defer span.End()

	result, err := d.conn(ctx).ExecContext(ctx, `
		UPDATE change_files
		SET status = $1, applied_at = $2
		WHERE catalogue_id = $3 AND request_id = $4 AND status = $5`,
		model.ChangeFileApplied,
		appliedAt,
		catalogueID,
		requestID,
		model.ChangeFilePending,
	)
	if err != nil {
		span.RecordError(err)
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark change files applied", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return n, nil
}
