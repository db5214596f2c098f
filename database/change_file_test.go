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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcat/catsync/model"
)

func TestChangeFiles_MarkApplied(t *testing.T) {
	ds := newSQLiteDatasource(t)
	ctx := context.Background()

	cat, err := ds.CreateCatalogue(ctx, model.Catalogue{Code: "FOOD-1", Version: model.Version{Major: 1}, CatalogueType: model.EnvironmentTest})
	require.NoError(t, err)

	mine, err := ds.RecordChangeFile(ctx, model.ChangeFile{CatalogueID: cat.CatalogueID, Attachment: "changes-1.xml", RequestID: "DCF-1"})
	require.NoError(t, err)
	_, err = ds.RecordChangeFile(ctx, model.ChangeFile{CatalogueID: cat.CatalogueID, Attachment: "changes-2.xml", RequestID: "DCF-2"})
	require.NoError(t, err)

	pending, err := ds.GetPendingChangeFiles(ctx, cat.CatalogueID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	n, err := ds.MarkChangeFilesApplied(ctx, cat.CatalogueID, "DCF-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// a second mark finds nothing left to apply
	n, err = ds.MarkChangeFilesApplied(ctx, cat.CatalogueID, "DCF-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := ds.GetChangeFile(ctx, mine.ChangeFileID)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeFileApplied, got.Status)
	require.NotNil(t, got.AppliedAt)

	pending, err = ds.GetPendingChangeFiles(ctx, cat.CatalogueID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "DCF-2", pending[0].RequestID)
}
