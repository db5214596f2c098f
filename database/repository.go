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
	"time"

	"github.com/foodcat/catsync/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	pendingRequest // Interface for pending request operations
	catalogue      // Interface for catalogue operations
	changeFile     // Interface for change file operations
	transactor     // Interface for running work in one transaction
}

// pendingRequest defines methods for handling pending DCF requests and their history.
type pendingRequest interface {
	RecordPendingRequest(ctx context.Context, req *model.PendingRequest) error                                                    // Stores a new pending request
	GetPendingRequest(ctx context.Context, id string) (*model.PendingRequest, error)                                              // Retrieves a pending request by ID
	UpdatePendingRequest(ctx context.Context, req *model.PendingRequest) error                                                    // Persists status, response, log and reconciled flag
	GetPendingRequests(ctx context.Context, filter model.PendingRequestFilter, limit, offset int) ([]model.PendingRequest, error) // Lists pending requests
	GetUnsettledPendingRequests(ctx context.Context) ([]model.PendingRequest, error)                                              // Non-terminal or unreconciled requests
	AppendPendingRequestLog(ctx context.Context, entry model.PendingRequestLogEntry) (bool, error)                                // Appends a history row, false if it already exists
	GetPendingRequestHistory(ctx context.Context, id string) ([]model.PendingRequestLogEntry, error)                              // Retrieves the history of a request
}

// catalogue defines methods for handling local catalogue copies.
type catalogue interface {
	CreateCatalogue(ctx context.Context, cat model.Catalogue) (model.Catalogue, error)
	GetCatalogueByCode(ctx context.Context, code string) (*model.Catalogue, error)
	GetCatalogueByID(ctx context.Context, id string) (*model.Catalogue, error)
	UpdateCatalogue(ctx context.Context, cat *model.Catalogue) error
	GetAllCatalogues(ctx context.Context, limit, offset int) ([]model.Catalogue, error)
	DeleteCatalogue(ctx context.Context, id string) error
}

// changeFile defines methods for handling uploaded XML change files.
type changeFile interface {
	RecordChangeFile(ctx context.Context, file model.ChangeFile) (model.ChangeFile, error)
	GetChangeFile(ctx context.Context, id string) (*model.ChangeFile, error)
	GetPendingChangeFiles(ctx context.Context, catalogueID string) ([]model.ChangeFile, error)
	MarkChangeFilesApplied(ctx context.Context, catalogueID, requestID string, appliedAt time.Time) (int64, error) // Returns the number of files marked
}

type transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
