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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/foodcat/catsync/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := map[string]string{"request_id": "DCF-0042"}
	apiErr := apierror.NewAPIError(apierror.ErrConflict, "a reserve request for catalogue FOOD is already outstanding", details)

	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.Equal(t, "a reserve request for catalogue FOOD is already outstanding", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "CONFLICT: a reserve request for catalogue FOOD is already outstanding", apiErr.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "NotFound Error",
			err:      apierror.NewAPIError(apierror.ErrNotFound, "catalogue FOD not found, did you mean FOOD?", nil),
			expected: http.StatusNotFound,
		},
		{
			name:     "Conflict Error",
			err:      apierror.NewAPIError(apierror.ErrConflict, "catalogue FOOD is being edited by ana", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "BadRequest Error",
			err:      apierror.NewAPIError(apierror.ErrBadRequest, "malformed json body", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "InvalidInput Error",
			err:      apierror.NewAPIError(apierror.ErrInvalidInput, "username is required", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "Precondition Error",
			err:      apierror.NewAPIError(apierror.ErrPrecondition, "Catalogue is not reserved", nil),
			expected: http.StatusPreconditionFailed,
		},
		{
			name:     "Remote Rejected Error",
			err:      apierror.NewAPIError(apierror.ErrRemoteRejected, "DCF refused the request", nil),
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "Wrapped Conflict Error",
			err:      fmt.Errorf("submit: %w", apierror.NewAPIError(apierror.ErrConflict, "Outstanding request", nil)),
			expected: http.StatusConflict,
		},
		{
			name:     "InternalServerError",
			err:      apierror.NewAPIError(apierror.ErrInternalServer, "failed to submit request to DCF", nil),
			expected: http.StatusInternalServerError,
		},
		{
			name:     "Unknown Error",
			err:      errors.New("connection reset by peer"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusCode := apierror.MapErrorToHTTPStatus(tt.err)
			assert.Equal(t, tt.expected, statusCode)
		})
	}
}

func TestHasCodeAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("reconcile: %w", apierror.NewAPIError(apierror.ErrInternalServer, "failed to update catalogue", cause))

	assert.True(t, apierror.HasCode(err, apierror.ErrInternalServer))
	assert.False(t, apierror.HasCode(err, apierror.ErrNotFound))
	assert.ErrorIs(t, err, cause)
}
