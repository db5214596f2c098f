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
	"strings"
	"time"
)

// WorkerStatus is published around every unit of reconciliation work.
type WorkerStatus string

const (
	WorkerOngoing WorkerStatus = "ONGOING"
	WorkerWaiting WorkerStatus = "WAITING"
)

// ActionKind is the closed set of high-level outcomes UI code renders.
type ActionKind string

const (
	ActionLIVImportStarted          ActionKind = "LIV_IMPORT_STARTED"
	ActionLIVImported               ActionKind = "LIV_IMPORTED"
	ActionTempCatCreated            ActionKind = "TEMP_CAT_CREATED"
	ActionTempCatConfirmed          ActionKind = "TEMP_CAT_CONFIRMED"
	ActionTempCatInvalidNoReserve   ActionKind = "TEMP_CAT_INVALIDATED_NO_RESERVE"
	ActionTempCatInvalidLIV         ActionKind = "TEMP_CAT_INVALIDATED_LIV"
	ActionTempCatInvalidAmbiguous   ActionKind = "TEMP_CAT_INVALIDATED_AMBIGUOUS"
	ActionNewInternalVersionCreated ActionKind = "NEW_INTERNAL_VERSION_CREATED"
	ActionCatalogueUnreserved       ActionKind = "CATALOGUE_UNRESERVED"
	ActionCataloguePublished        ActionKind = "CATALOGUE_PUBLISHED"
	ActionChangeFileApplied         ActionKind = "CHANGE_FILE_APPLIED"
)

// StatusChangedEvent is emitted after a status transition has been reconciled.
type StatusChangedEvent struct {
	RequestID     string         `json:"request_id"`
	Type          RequestType    `json:"type"`
	CatalogueCode string         `json:"catalogue_code"`
	OldStatus     Status         `json:"old_status"`
	NewStatus     Status         `json:"new_status"`
	Response      Response       `json:"response,omitempty"`
	Request       PendingRequest `json:"request"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (e StatusChangedEvent) IsTerminal() bool {
	return e.NewStatus.IsTerminal()
}

// ActionPerformedEvent describes a local catalogue change made by reconciliation.
type ActionPerformedEvent struct {
	Action              ActionKind `json:"action"`
	CatalogueCode       string     `json:"catalogue_code"`
	OldVersion          string     `json:"old_version,omitempty"`
	NewVersion          string     `json:"new_version,omitempty"`
	LastInternalVersion string     `json:"last_internal_version,omitempty"`
	RequestID           string     `json:"request_id,omitempty"`
	OccurredAt          time.Time  `json:"occurred_at"`
}

type EventKind string

const (
	EventStatusChanged   EventKind = "status_changed"
	EventActionPerformed EventKind = "action_performed"
)

// Event is the envelope carried on the engine's event stream. Exactly one of
// StatusChanged and ActionPerformed is set, matching Kind.
type Event struct {
	EventID         string                `json:"event_id"`
	Kind            EventKind             `json:"kind"`
	StatusChanged   *StatusChangedEvent   `json:"status_changed,omitempty"`
	ActionPerformed *ActionPerformedEvent `json:"action_performed,omitempty"`
}

func NewStatusChangedEvent(e StatusChangedEvent) Event {
	return Event{EventID: GenerateUUIDWithSuffix("event"), Kind: EventStatusChanged, StatusChanged: &e}
}

func NewActionPerformedEvent(e ActionPerformedEvent) Event {
	return Event{EventID: GenerateUUIDWithSuffix("event"), Kind: EventActionPerformed, ActionPerformed: &e}
}

// Name is the external event name, e.g. "request.completed" or "catalogue.temp_cat_confirmed".
func (e Event) Name() string {
	switch {
	case e.StatusChanged != nil:
		return "request." + strings.ToLower(string(e.StatusChanged.NewStatus))
	case e.ActionPerformed != nil:
		return "catalogue." + strings.ToLower(string(e.ActionPerformed.Action))
	}
	return "unknown"
}
