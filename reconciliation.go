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

package catsync

import (
	"context"
	"fmt"
	"time"

	"github.com/foodcat/catsync/database"
	"github.com/foodcat/catsync/internal/apierror"
	"github.com/foodcat/catsync/model"
	"github.com/sirupsen/logrus"
)

// reconcileOutcome collects what a reconciliation did so the worker can
// announce it once the transaction is committed.
type reconcileOutcome struct {
	actions []model.ActionPerformedEvent
	imports []ImportJob
}

func (o *reconcileOutcome) emit(requestID string, kind model.ActionKind, code, oldVersion, newVersion, liv string) {
	o.actions = append(o.actions, model.ActionPerformedEvent{
		Action:              kind,
		CatalogueCode:       code,
		OldVersion:          oldVersion,
		NewVersion:          newVersion,
		LastInternalVersion: liv,
		RequestID:           requestID,
	})
}

// reconciler applies the local side effects of a request status transition.
// It is the only writer of catalogue reservation, version and change-file
// state.
type reconciler struct {
	datasource database.IDataSource
	now        func() time.Time
}

// reconcile dispatches on the request family and its current status. Only
// QUEUED and terminal statuses mutate storage. Every path is idempotent.
//
// Parameters:
// - ctx context.Context: Carries the surrounding transaction.
// - req *model.PendingRequest: The request, already moved to its new status.
//
// Returns:
// - reconcileOutcome: Actions to publish and imports to start.
// - error: A storage failure. The caller rolls back.
func (r *reconciler) reconcile(ctx context.Context, req *model.PendingRequest) (reconcileOutcome, error) {
	var out reconcileOutcome
	if req.Status != model.StatusQueued && !req.IsTerminal() {
		return out, nil
	}

	code := req.CatalogueCode()
	cat, err := r.datasource.GetCatalogueByCode(ctx, code)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"request_id": req.RequestID,
				"catalogue":  code,
			}).Warn("catalogue not found, nothing to reconcile")
			return out, nil
		}
		return out, err
	}

	success := req.Status == model.StatusCompleted && req.Response == model.ResponseOK

	var changed bool
	switch req.Type.Family() {
	case model.FamilyReserve:
		switch {
		case req.Status == model.StatusQueued:
			changed = r.reserveQueued(req, cat)
		case success:
			changed = r.reserveConfirmed(req, cat, &out)
		default:
			changed = r.reserveFailed(req, cat, &out)
		}
	case model.FamilyUnreserve:
		if success {
			changed = r.unreserve(req, cat, &out)
		}
	case model.FamilyPublish:
		if success {
			changed = r.publish(req, cat, &out)
		}
	case model.FamilyUpload:
		if success {
			n, err := r.datasource.MarkChangeFilesApplied(ctx, cat.CatalogueID, req.RequestID, r.now())
			if err != nil {
				return reconcileOutcome{}, err
			}
			if n > 0 {
				out.emit(req.RequestID, model.ActionChangeFileApplied, cat.Code, "", cat.Version.String(), "")
			}
		}
	default:
		return out, fmt.Errorf("unknown request type %q", req.Type)
	}

	if !changed {
		return out, nil
	}
	cat.UpdatedAt = r.now()
	if err := r.datasource.UpdateCatalogue(ctx, cat); err != nil {
		return reconcileOutcome{}, err
	}
	return out, nil
}

// reserveQueued starts a forced edit so the user can work before DCF confirms.
func (r *reconciler) reserveQueued(req *model.PendingRequest, cat *model.Catalogue) bool {
	if _, ok := cat.State().(model.NotReserved); !ok {
		return false
	}
	cat.Reservation = model.ReservedProvisional{
		Level:       req.Type.Level(),
		User:        req.Requestor.Username,
		BaseVersion: cat.Version,
	}
	return true
}

func (r *reconciler) reserveConfirmed(req *model.PendingRequest, cat *model.Catalogue, out *reconcileOutcome) bool {
	user := req.Requestor.Username
	base := cat.Version

	switch st := cat.State().(type) {
	case model.ReservedConfirmed:
		if st.User == user {
			return false
		}
	case model.ReservedProvisional:
		if st.User == user && st.TempVersion != nil {
			r.confirm(req, cat, *st.TempVersion, out)
			return true
		}
		if st.User == user {
			base = st.BaseVersion
		}
	}

	temp := cat.Version.NextInternal()
	out.emit(req.RequestID, model.ActionNewInternalVersionCreated, cat.Code, cat.Version.String(), temp.String(), "")
	out.emit(req.RequestID, model.ActionTempCatCreated, cat.Code, cat.Version.String(), temp.String(), "")
	cat.Reservation = model.ReservedProvisional{
		Level:       req.Type.Level(),
		User:        user,
		BaseVersion: base,
		TempVersion: &temp,
	}
	cat.Version = temp
	r.confirm(req, cat, temp, out)
	return true
}

// confirm adopts the version DCF reports as current, falling back to the
// temporary one, and turns the forced edit into a confirmed reservation.
func (r *reconciler) confirm(req *model.PendingRequest, cat *model.Catalogue, temp model.Version, out *reconcileOutcome) {
	adopted := temp
	liv := ""
	if v, ok := req.Log.LastInternal(); ok {
		adopted = v
		liv = v.String()
	}
	cat.Version = adopted
	cat.Reservation = model.ReservedConfirmed{Level: req.Type.Level(), User: req.Requestor.Username}
	out.emit(req.RequestID, model.ActionTempCatConfirmed, cat.Code, temp.String(), adopted.String(), liv)
}

func (r *reconciler) reserveFailed(req *model.PendingRequest, cat *model.Catalogue, out *reconcileOutcome) bool {
	base := cat.Version
	var temp *model.Version
	changed := false

	if st, ok := cat.State().(model.ReservedProvisional); ok && st.User == req.Requestor.Username {
		base = st.BaseVersion
		temp = st.TempVersion
		cat.Version = base
		cat.Reservation = model.NotReserved{}
		changed = true
	}

	invalidation := model.ActionTempCatInvalidNoReserve
	liv, ok := req.Log.LastInternal()
	switch {
	case ok && liv != base:
		invalidation = model.ActionTempCatInvalidLIV
		out.emit(req.RequestID, model.ActionLIVImportStarted, cat.Code, base.String(), liv.String(), liv.String())
		out.imports = append(out.imports, ImportJob{
			CatalogueCode: cat.Code,
			Environment:   req.Requestor.Environment,
			Version:       liv,
			RequestID:     req.RequestID,
		})
	case req.Response == model.ResponseAmbiguous:
		invalidation = model.ActionTempCatInvalidAmbiguous
	}

	if temp != nil {
		livString := ""
		if ok {
			livString = liv.String()
		}
		out.emit(req.RequestID, invalidation, cat.Code, temp.String(), base.String(), livString)
	}
	return changed
}

func (r *reconciler) unreserve(req *model.PendingRequest, cat *model.Catalogue, out *reconcileOutcome) bool {
	user := req.Requestor.Username
	old := cat.Version

	switch st := cat.State().(type) {
	case model.ReservedConfirmed:
		if st.User != user {
			return false
		}
	case model.ReservedProvisional:
		if st.User != user {
			return false
		}
		if st.TempVersion != nil {
			cat.Version = st.BaseVersion
		}
	default:
		return false
	}

	cat.Reservation = model.NotReserved{}
	out.emit(req.RequestID, model.ActionCatalogueUnreserved, cat.Code, old.String(), cat.Version.String(), "")
	return true
}

func (r *reconciler) publish(req *model.PendingRequest, cat *model.Catalogue, out *reconcileOutcome) bool {
	if _, ok := cat.State().(model.ReservedConfirmed); !ok {
		logrus.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"catalogue":  cat.Code,
		}).Warn("publish completed on a catalogue that is not reserved, skipping")
		return false
	}

	level := req.Type.Level()
	old := cat.Version
	cat.Version = cat.Version.Next(level)
	cat.Status = model.CataloguePublished
	cat.PublishedLevel = level
	cat.Reservation = model.NotReserved{}
	out.emit(req.RequestID, model.ActionCataloguePublished, cat.Code, old.String(), cat.Version.String(), "")
	return true
}
