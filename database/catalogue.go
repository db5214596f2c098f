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
	"go.opentelemetry.io/otel"
)

const catalogueColumns = `catalogue_id, code, name, version, catalogue_type, status, published_level, reserve_kind, reserve_level, reserve_user, base_version, temp_version, created_at, updated_at`

func scanCatalogue(row rowScanner) (*model.Catalogue, error) {
	var (
		cat     model.Catalogue
		version string
		rec     model.ReservationRecord
	)
	err := row.Scan(
		&cat.CatalogueID,
		&cat.Code,
		&cat.Name,
		&version,
		&cat.CatalogueType,
		&cat.Status,
		&cat.PublishedLevel,
		&rec.Kind,
		&rec.Level,
		&rec.User,
		&rec.BaseVersion,
		&rec.TempVersion,
		&cat.CreatedAt,
		&cat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cat.Version, err = model.ParseVersion(version); err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", cat.Code, err)
	}
	if cat.Reservation, err = rec.State(); err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", cat.Code, err)
	}
	return &cat, nil
}

// CreateCatalogue stores a local catalogue copy. A missing id is generated.
func (d Datasource) CreateCatalogue(ctx context.Context, cat model.Catalogue) (model.Catalogue, error) {
	ctx, span := otel.Tracer("Catalogue").Start(ctx, "Saving catalogue to db")
	defer span.End()

	if cat.CatalogueID == "" {
		cat.CatalogueID = model.GenerateUUIDWithSuffix("cat")
	}
	if cat.Status == "" {
		cat.Status = model.CatalogueDraft
	}
	cat.CreatedAt = time.Now().UTC()
	cat.UpdatedAt = cat.CreatedAt
	rec := model.RecordReservation(cat.State())

	_, err := d.conn(ctx).ExecContext(ctx, `
		INSERT INTO catalogues (`+catalogueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cat.CatalogueID,
		cat.Code,
		cat.Name,
		cat.Version.String(),
		cat.CatalogueType,
		cat.Status,
		cat.PublishedLevel,
		rec.Kind,
		rec.Level,
		rec.User,
		rec.BaseVersion,
		rec.TempVersion,
		cat.CreatedAt,
		cat.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return model.Catalogue{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("catalogue with code '%s' already exists", cat.Code), err)
		}
		return model.Catalogue{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create catalogue", err)
	}
	return cat, nil
}

func (d Datasource) getCatalogue(ctx context.Context, column, value string) (*model.Catalogue, error) {
	row := d.conn(ctx).QueryRowContext(ctx, `
		SELECT `+catalogueColumns+`
		FROM catalogues
		WHERE `+column+` = $1`, value)

	cat, err := scanCatalogue(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("catalogue '%s' not found", value), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve catalogue", err)
	}
	return cat, nil
}

func (d Datasource) GetCatalogueByCode(ctx context.Context, code string) (*model.Catalogue, error) {
	ctx, span := otel.Tracer("Catalogue").Start(ctx, "Fetching catalogue by code")
	defer span.End()
	return d.getCatalogue(ctx, "code", code)
}

func (d Datasource) GetCatalogueByID(ctx context.Context, id string) (*model.Catalogue, error) {
	ctx, span := otel.Tracer("Catalogue").Start(ctx, "Fetching catalogue by id")
	defer span.End()
	return d.getCatalogue(ctx, "catalogue_id", id)
}

// UpdateCatalogue writes the version, status and reservation of cat.
func (d Datasource) UpdateCatalogue(ctx context.Context, cat *model.Catalogue) error {
	ctx, span := otel.Tracer("Catalogue").Start(ctx, "Updating catalogue")
	defer span.End()

	cat.UpdatedAt = time.Now().UTC()
	rec := model.RecordReservation(cat.State())

	result, err := d.conn(ctx).ExecContext(ctx, `
		UPDATE catalogues
		SET name = $1, version = $2, catalogue_type = $3, status = $4, published_level = $5,
			reserve_kind = $6, reserve_level = $7, reserve_user = $8, base_version = $9, temp_version = $10,
			updated_at = $11
		WHERE catalogue_id = $12`,
		cat.Name,
		cat.Version.String(),
		cat.CatalogueType,
		cat.Status,
		cat.PublishedLevel,
		rec.Kind,
		rec.Level,
		rec.User,
		rec.BaseVersion,
		rec.TempVersion,
		cat.UpdatedAt,
		cat.CatalogueID,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update catalogue", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("catalogue '%s' not found", cat.CatalogueID), nil)
	}
	return nil
}

func (d Datasource) GetAllCatalogues(ctx context.Context, limit, offset int) ([]model.Catalogue, error) {
	ctx, span := otel.Tracer("Catalogue").Start(ctx, "Fetching catalogues")
	defer span.End()

	rows, err := d.conn(ctx).QueryContext(ctx, `
		SELECT `+catalogueColumns+`
		FROM catalogues
		ORDER BY code ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve catalogues", err)
	}
	defer func() { _ = rows.Close() }()

	catalogues := []model.Catalogue{}
	for rows.Next() {
		cat, err := scanCatalogue(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan catalogue", err)
		}
		catalogues = append(catalogues, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over catalogues", err)
	}
	return catalogues, nil
}

func (d Datasource) DeleteCatalogue(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("Catalogue").Start(ctx, "Deleting catalogue")
	defer span.End()

	result, err := d.conn(ctx).ExecContext(ctx, `DELETE FROM catalogues WHERE catalogue_id = $1`, id)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete catalogue", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("catalogue '%s' not found", id), nil)
	}
	return nil
}
