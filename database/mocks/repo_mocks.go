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

package mocks

import (
	"context"
	"time"

	"github.com/foodcat/catsync/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Pending request methods

func (m *MockDataSource) RecordPendingRequest(ctx context.Context, req *model.PendingRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockDataSource) GetPendingRequest(ctx context.Context, id string) (*model.PendingRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingRequest), args.Error(1)
}

func (m *MockDataSource) UpdatePendingRequest(ctx context.Context, req *model.PendingRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockDataSource) GetPendingRequests(ctx context.Context, filter model.PendingRequestFilter, limit, offset int) ([]model.PendingRequest, error) {
	args := m.Called(ctx, filter, limit, offset)
	return args.Get(0).([]model.PendingRequest), args.Error(1)
}

func (m *MockDataSource) GetUnsettledPendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.PendingRequest), args.Error(1)
}

func (m *MockDataSource) AppendPendingRequestLog(ctx context.Context, entry model.PendingRequestLogEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetPendingRequestHistory(ctx context.Context, id string) ([]model.PendingRequestLogEntry, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]model.PendingRequestLogEntry), args.Error(1)
}

// Catalogue methods

func (m *MockDataSource) CreateCatalogue(ctx context.Context, cat model.Catalogue) (model.Catalogue, error) {
	args := m.Called(ctx, cat)
	return args.Get(0).(model.Catalogue), args.Error(1)
}

func (m *MockDataSource) GetCatalogueByCode(ctx context.Context, code string) (*model.Catalogue, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Catalogue), args.Error(1)
}

func (m *MockDataSource) GetCatalogueByID(ctx context.Context, id string) (*model.Catalogue, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Catalogue), args.Error(1)
}

func (m *MockDataSource) UpdateCatalogue(ctx context.Context, cat *model.Catalogue) error {
	args := m.Called(ctx, cat)
	return args.Error(0)
}

func (m *MockDataSource) GetAllCatalogues(ctx context.Context, limit, offset int) ([]model.Catalogue, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.Catalogue), args.Error(1)
}

func (m *MockDataSource) DeleteCatalogue(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Change file methods

func (m *MockDataSource) RecordChangeFile(ctx context.Context, file model.ChangeFile) (model.ChangeFile, error) {
	args := m.Called(ctx, file)
	return args.Get(0).(model.ChangeFile), args.Error(1)
}

func (m *MockDataSource) GetChangeFile(ctx context.Context, id string) (*model.ChangeFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChangeFile), args.Error(1)
}

func (m *MockDataSource) GetPendingChangeFiles(ctx context.Context, catalogueID string) ([]model.ChangeFile, error) {
	args := m.Called(ctx, catalogueID)
	return args.Get(0).([]model.ChangeFile), args.Error(1)
}

func (m *MockDataSource) MarkChangeFilesApplied(ctx context.Context, catalogueID, requestID string, appliedAt time.Time) (int64, error) {
	args := m.Called(ctx, catalogueID, requestID, appliedAt)
	return args.Get(0).(int64), args.Error(1)
}

// WithTx records the call and, unless the expectation returns an error,
// runs fn with the same context.
func (m *MockDataSource) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}
