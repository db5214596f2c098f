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
	"encoding/json"
	"fmt"
	"time"
)

type CatalogueStatus string

const (
	CatalogueDraft     CatalogueStatus = "DRAFT"
	CataloguePublished CatalogueStatus = "PUBLISHED"
)

// ReservationKind is the stored discriminator of a ReservationState.
type ReservationKind string

const (
	ReservationNone        ReservationKind = "NOT_RESERVED"
	ReservationConfirmed   ReservationKind = "RESERVED"
	ReservationProvisional ReservationKind = "FORCED"
	ReservationByOther     ReservationKind = "RESERVED_BY_OTHER"
)

// ReservationState is the reservation/forced-edit state of a catalogue.
// The variants are NotReserved, ReservedConfirmed, ReservedProvisional and ReservedByOther.
type ReservationState interface {
	Kind() ReservationKind
	isReservationState()
}

type NotReserved struct{}

// ReservedConfirmed is a reservation DCF has acknowledged for User.
type ReservedConfirmed struct {
	Level Level
	User  string
}

// ReservedProvisional is a forced edit: User may edit locally before DCF has
// confirmed the reservation. BaseVersion is the version to restore on
// invalidation; TempVersion is set once a temporary internal version exists.
type ReservedProvisional struct {
	Level       Level
	User        string
	BaseVersion Version
	TempVersion *Version
}

type ReservedByOther struct {
	User string
}

func (NotReserved) Kind() ReservationKind         { return ReservationNone }
func (ReservedConfirmed) Kind() ReservationKind   { return ReservationConfirmed }
func (ReservedProvisional) Kind() ReservationKind { return ReservationProvisional }
func (ReservedByOther) Kind() ReservationKind     { return ReservationByOther }

func (NotReserved) isReservationState()         {}
func (ReservedConfirmed) isReservationState()   {}
func (ReservedProvisional) isReservationState() {}
func (ReservedByOther) isReservationState()     {}

// ReservationRecord is the flat form of a ReservationState used for storage and JSON.
type ReservationRecord struct {
	Kind        ReservationKind `json:"kind"`
	Level       Level           `json:"level,omitempty"`
	User        string          `json:"user,omitempty"`
	BaseVersion string          `json:"base_version,omitempty"`
	TempVersion string          `json:"temp_version,omitempty"`
}

func RecordReservation(s ReservationState) ReservationRecord {
	switch st := s.(type) {
	case ReservedConfirmed:
		return ReservationRecord{Kind: ReservationConfirmed, Level: st.Level, User: st.User}
	case ReservedProvisional:
		rec := ReservationRecord{Kind: ReservationProvisional, Level: st.Level, User: st.User, BaseVersion: st.BaseVersion.String()}
		if st.TempVersion != nil {
			rec.TempVersion = st.TempVersion.String()
		}
		return rec
	case ReservedByOther:
		return ReservationRecord{Kind: ReservationByOther, User: st.User}
	}
	return ReservationRecord{Kind: ReservationNone}
}

// State converts the record back into its variant.
func (r ReservationRecord) State() (ReservationState, error) {
	switch r.Kind {
	case ReservationNone, "":
		return NotReserved{}, nil
	case ReservationConfirmed:
		return ReservedConfirmed{Level: r.Level, User: r.User}, nil
	case ReservationByOther:
		return ReservedByOther{User: r.User}, nil
	case ReservationProvisional:
		base, err := ParseVersion(r.BaseVersion)
		if err != nil {
			return nil, fmt.Errorf("forced edit base version: %w", err)
		}
		st := ReservedProvisional{Level: r.Level, User: r.User, BaseVersion: base}
		if r.TempVersion != "" {
			temp, err := ParseVersion(r.TempVersion)
			if err != nil {
				return nil, fmt.Errorf("forced edit temporary version: %w", err)
			}
			st.TempVersion = &temp
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown reservation kind %q", r.Kind)
}

// Catalogue is the local copy of a DCF catalogue.
type Catalogue struct {
	CatalogueID    string           `json:"catalogue_id"`
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	Version        Version          `json:"-"`
	CatalogueType  Environment      `json:"catalogue_type"`
	Status         CatalogueStatus  `json:"status"`
	PublishedLevel Level            `json:"published_level,omitempty"`
	Reservation    ReservationState `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type catalogueJSON struct {
	Version            string            `json:"version"`
	Reservation        ReservationRecord `json:"reservation"`
	IsTemporaryVersion bool              `json:"is_temporary_version"`
}

func (c Catalogue) MarshalJSON() ([]byte, error) {
	type alias Catalogue
	return json.Marshal(struct {
		alias
		catalogueJSON
	}{
		alias: alias(c),
		catalogueJSON: catalogueJSON{
			Version:            c.Version.String(),
			Reservation:        RecordReservation(c.Reservation),
			IsTemporaryVersion: c.IsTemporaryVersion(),
		},
	})
}

func (c *Catalogue) UnmarshalJSON(b []byte) error {
	type alias Catalogue
	var aux struct {
		*alias
		catalogueJSON
	}
	aux.alias = (*alias)(c)
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.catalogueJSON.Version != "" {
		v, err := ParseVersion(aux.catalogueJSON.Version)
		if err != nil {
			return err
		}
		c.Version = v
	}
	st, err := aux.catalogueJSON.Reservation.State()
	if err != nil {
		return err
	}
	c.Reservation = st
	return nil
}

// State returns the reservation state, treating an unset state as NotReserved.
func (c *Catalogue) State() ReservationState {
	if c.Reservation == nil {
		return NotReserved{}
	}
	return c.Reservation
}

// IsTemporaryVersion is true while a speculative internal version awaits
// confirmation or invalidation. Publish and export must check it.
func (c *Catalogue) IsTemporaryVersion() bool {
	p, ok := c.State().(ReservedProvisional)
	return ok && p.TempVersion != nil
}

// ForcedEdit returns the forced-edit holder, if any.
func (c *Catalogue) ForcedEdit() (Level, string, bool) {
	p, ok := c.State().(ReservedProvisional)
	if !ok {
		return "", "", false
	}
	return p.Level, p.User, true
}

// ReservedBy reports whether user holds a confirmed reservation.
func (c *Catalogue) ReservedBy(user string) bool {
	r, ok := c.State().(ReservedConfirmed)
	return ok && r.User == user
}

// CanPublish reports whether user can ask DCF to publish the catalogue.
func (c *Catalogue) CanPublish(user string) bool {
	return c.ReservedBy(user) && !c.IsTemporaryVersion()
}

type ChangeFileStatus string

const (
	ChangeFilePending ChangeFileStatus = "PENDING"
	ChangeFileApplied ChangeFileStatus = "APPLIED"
)

// ChangeFile is an uploaded XML change set waiting for DCF to apply it.
type ChangeFile struct {
	ChangeFileID string           `json:"change_file_id"`
	CatalogueID  string           `json:"catalogue_id"`
	Attachment   string           `json:"attachment"`
	Status       ChangeFileStatus `json:"status"`
	RequestID    string           `json:"request_id"`
	CreatedAt    time.Time        `json:"created_at"`
	AppliedAt    *time.Time       `json:"applied_at,omitempty"`
}
