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

// Package dcf talks to the remote catalogue service. Submissions are
// synchronous only up to remote acceptance; progress is observed by polling.
package dcf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foodcat/catsync/model"
)

// ErrRemoteRejected matches every RejectedError.
var ErrRemoteRejected = errors.New("request rejected by DCF")

// Submission is one operation to hand to DCF on behalf of a user.
type Submission struct {
	Type      model.RequestType
	Requestor model.Requestor
	Data      model.RequestData
}

// Ticket is the handle DCF returns once it accepted a submission. Response
// and Log are set when DCF already finished the request.
type Ticket struct {
	RequestID string
	Status    model.Status
	Response  model.Response
	Log       *model.PendingLog
}

// StatusReport is one answer to a status poll.
type StatusReport struct {
	Status   model.Status
	Response model.Response
	Log      *model.PendingLog
}

// CatalogueSnapshot describes a catalogue version downloaded from DCF.
type CatalogueSnapshot struct {
	Code    string
	Name    string
	Version model.Version
}

// Client is the narrow contract the engine needs from DCF.
type Client interface {
	Submit(ctx context.Context, sub Submission) (Ticket, error)
	PollStatus(ctx context.Context, env model.Environment, requestID string) (StatusReport, error)
}

// Downloader is implemented by clients that can fetch a catalogue version.
type Downloader interface {
	DownloadCatalogue(ctx context.Context, env model.Environment, code string, version model.Version) (CatalogueSnapshot, error)
}

// RejectedError is returned when DCF refuses a submission outright.
type RejectedError struct {
	StatusCode int
	Reason     string
	NodeErrors []model.NodeError
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("dcf rejected request (status %d): %s", e.StatusCode, e.Reason)
	if len(e.NodeErrors) > 0 {
		parts := make([]string, 0, len(e.NodeErrors))
		for _, n := range e.NodeErrors {
			parts = append(parts, n.Node+": "+n.Message)
		}
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return msg
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRemoteRejected
}
