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

package model

import (
	"fmt"
	"strings"
	"time"
)

// RequestType identifies the operation a pending request asks DCF to perform.
type RequestType string

const (
	RequestReserveMinor  RequestType = "RESERVE_MINOR"
	RequestReserveMajor  RequestType = "RESERVE_MAJOR"
	RequestUnreserve     RequestType = "UNRESERVE"
	RequestPublishMinor  RequestType = "PUBLISH_MINOR"
	RequestPublishMajor  RequestType = "PUBLISH_MAJOR"
	RequestUploadXmlData RequestType = "UPLOAD_XML_DATA"
)

// RequestFamily groups the request types that act on the same catalogue field.
type RequestFamily string

const (
	FamilyReserve   RequestFamily = "RESERVE"
	FamilyUnreserve RequestFamily = "UNRESERVE"
	FamilyPublish   RequestFamily = "PUBLISH"
	FamilyUpload    RequestFamily = "UPLOAD"
)

var requestTypeAliases = map[string]RequestType{
	"reserveminor":     RequestReserveMinor,
	"reservemajor":     RequestReserveMajor,
	"unreserve":        RequestUnreserve,
	"publishminor":     RequestPublishMinor,
	"publishmajor":     RequestPublishMajor,
	"uploadxmldata":    RequestUploadXmlData,
	"uploadxmlchanges": RequestUploadXmlData,
}

// ParseRequestType accepts both the stored constant ("RESERVE_MINOR") and the
// DCF boundary name ("ReserveMinor").
func ParseRequestType(s string) (RequestType, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if t, ok := requestTypeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown request type %q", s)
}

func (t RequestType) Valid() bool {
	return t.Family() != ""
}

func (t RequestType) Family() RequestFamily {
	switch t {
	case RequestReserveMinor, RequestReserveMajor:
		return FamilyReserve
	case RequestUnreserve:
		return FamilyUnreserve
	case RequestPublishMinor, RequestPublishMajor:
		return FamilyPublish
	case RequestUploadXmlData:
		return FamilyUpload
	}
	return ""
}

// Level returns the level carried by reserve and publish types, empty otherwise.
func (t RequestType) Level() Level {
	switch t {
	case RequestReserveMinor, RequestPublishMinor:
		return LevelMinor
	case RequestReserveMajor, RequestPublishMajor:
		return LevelMajor
	}
	return ""
}

// Status is the lifecycle state of a pending request.
type Status string

const (
	StatusWaiting     Status = "WAITING"
	StatusQueued      Status = "QUEUED"
	StatusDownloading Status = "DOWNLOADING"
	StatusCompleted   Status = "COMPLETED"
	StatusError       Status = "ERROR"
)

// Rank orders statuses WAITING < QUEUED < DOWNLOADING < terminal. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusQueued:
		return 1
	case StatusDownloading:
		return 2
	case StatusCompleted, StatusError:
		return 3
	}
	return -1
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Advances reports whether moving from s to next is a forward transition.
// Duplicates, regressions and a second terminal status are all rejected.
func (s Status) Advances(next Status) bool {
	return next.Rank() > s.Rank()
}

// Response is the remote outcome, only set once a request is terminal.
type Response string

const (
	ResponseOK        Response = "OK"
	ResponseError     Response = "ERROR"
	ResponseAmbiguous Response = "AMBIGUOUS_PENDING"
)

// Requestor is the DCF user a request is made on behalf of.
type Requestor struct {
	Username    string      `json:"username"`
	Environment Environment `json:"environment"`
}

// Data map keys. Values are opaque to the engine.
const (
	DataCatalogueCode    = "catalogueCode"
	DataCatalogueID      = "catalogueId"
	DataReservationNote  = "reservationNote"
	DataAttachment       = "attachment"
	DataCatalogueVersion = "catalogueVersion"
)

type DataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RequestData is an insertion-ordered string map. It encodes to JSON as an
// array of entries so the order survives storage.
type RequestData []DataEntry

func (d RequestData) Get(key string) (string, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Value returns the value for key or an empty string.
func (d RequestData) Value(key string) string {
	v, _ := d.Get(key)
	return v
}

// Set replaces the value in place when key exists, otherwise appends it.
func (d *RequestData) Set(key, value string) {
	for i := range *d {
		if (*d)[i].Key == key {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, DataEntry{Key: key, Value: value})
}

func (d RequestData) Keys() []string {
	keys := make([]string, 0, len(d))
	for _, e := range d {
		keys = append(keys, e.Key)
	}
	return keys
}

func (d RequestData) Clone() RequestData {
	if d == nil {
		return nil
	}
	out := make(RequestData, len(d))
	copy(out, d)
	return out
}

type NodeError struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

// PendingLog is the diagnostic record DCF returns with a status report.
type PendingLog struct {
	LastInternalVersion string      `json:"last_internal_version,omitempty"`
	NodeErrors          []NodeError `json:"node_errors,omitempty"`
	MacroOperation      string      `json:"macro_operation,omitempty"`
}

func (l *PendingLog) HasErrors() bool {
	return l != nil && len(l.NodeErrors) > 0
}

// LastInternal parses the reported last internal version. ok is false when the
// log is absent or carries no parsable version.
func (l *PendingLog) LastInternal() (Version, bool) {
	if l == nil || l.LastInternalVersion == "" {
		return Version{}, false
	}
	v, err := ParseVersion(l.LastInternalVersion)
	if err != nil {
		return Version{}, false
	}
	return v, true
}

func (l *PendingLog) clone() *PendingLog {
	if l == nil {
		return nil
	}
	out := *l
	out.NodeErrors = append([]NodeError(nil), l.NodeErrors...)
	return &out
}

// PendingRequest is the local record of one asynchronous DCF operation.
type PendingRequest struct {
	RequestID  string      `json:"request_id"`
	Type       RequestType `json:"type"`
	Requestor  Requestor   `json:"requestor"`
	Data       RequestData `json:"data"`
	Status     Status      `json:"status"`
	Response   Response    `json:"response,omitempty"`
	Log        *PendingLog `json:"log,omitempty"`
	Reconciled bool        `json:"reconciled"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (p *PendingRequest) CatalogueCode() string {
	return p.Data.Value(DataCatalogueCode)
}

func (p *PendingRequest) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// Clone returns a deep copy, used for event payloads so listeners never share
// state with the worker.
func (p *PendingRequest) Clone() *PendingRequest {
	out := *p
	out.Data = p.Data.Clone()
	out.Log = p.Log.clone()
	return &out
}

// PendingRequestFilter narrows GetPendingRequests. Empty fields match everything.
type PendingRequestFilter struct {
	CatalogueCode string
	Type          RequestType
	Status        Status
}

// PendingRequestLogEntry is one row of a request's append-only status history.
type PendingRequestLogEntry struct {
	RequestID  string      `json:"request_id"`
	Seq        int         `json:"seq"`
	Status     Status      `json:"status"`
	Response   Response    `json:"response,omitempty"`
	Log        *PendingLog `json:"log,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// HistoryEntry builds the history row for the request's current status.
func (p *PendingRequest) HistoryEntry(at time.Time) PendingRequestLogEntry {
	return PendingRequestLogEntry{
		RequestID:  p.RequestID,
		Seq:        p.Status.Rank(),
		Status:     p.Status,
		Response:   p.Response,
		Log:        p.Log.clone(),
		RecordedAt: at,
	}
}
