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
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/internal/apierror"
	"github.com/foodcat/catsync/internal/notification"
	"github.com/foodcat/catsync/model"
)

const suggestionScanLimit = 1000

// SubmitRequest is a user action to send to DCF.
type SubmitRequest struct {
	Type          model.RequestType `json:"type"`
	Requestor     model.Requestor   `json:"requestor"`
	CatalogueCode string            `json:"catalogue_code"`
	Note          string            `json:"note,omitempty"`
	Attachment    string            `json:"attachment,omitempty"`
}

func requestTypeRule(value interface{}) error {
	t, ok := value.(model.RequestType)
	if !ok || !t.Valid() {
		return fmt.Errorf("unknown request type %v", value)
	}
	return nil
}

func requestorRule(value interface{}) error {
	r, ok := value.(model.Requestor)
	if !ok {
		return errors.New("invalid requestor")
	}
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username is required")
	}
	switch r.Environment {
	case "", model.EnvironmentProduction, model.EnvironmentTest:
		return nil
	}
	return fmt.Errorf("unknown environment %q", r.Environment)
}

func (s *SubmitRequest) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Type, validation.Required, validation.By(requestTypeRule)),
		validation.Field(&s.Requestor, validation.By(requestorRule)),
		validation.Field(&s.CatalogueCode, validation.Required),
		validation.Field(&s.Attachment, validation.When(s.Type == model.RequestUploadXmlData, validation.Required)),
	)
}

// Submit checks the local preconditions of a user action, hands it to DCF and
// starts tracking the accepted request. Nothing is stored when DCF rejects
// the submission.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req SubmitRequest: The action to submit.
//
// Returns:
// - *model.PendingRequest: The stored request, in WAITING status.
// - error: An APIError describing why the action was refused.
func (l *CatSync) Submit(ctx context.Context, req SubmitRequest) (*model.PendingRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	cat, err := l.lookupCatalogue(ctx, req.CatalogueCode)
	if err != nil {
		return nil, err
	}

	if req.Requestor.Environment == "" {
		req.Requestor.Environment = cat.CatalogueType
	}
	if req.Requestor.Environment == "" {
		req.Requestor.Environment = model.Environment(l.config.DCF.Environment)
	}

	if err := checkPreconditions(cat, req); err != nil {
		return nil, err
	}

	family := req.Type.Family()
	if !l.worker.tracker.claim(cat.Code, family) {
		id, _ := l.worker.tracker.outstanding(cat.Code, family)
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("a %s request for catalogue %s is already outstanding", strings.ToLower(string(family)), cat.Code),
			map[string]string{"request_id": id})
	}

	data := requestData(cat, req)
	ticket, err := l.remote.Submit(ctx, dcf.Submission{Type: req.Type, Requestor: req.Requestor, Data: data})
	if err != nil {
		l.worker.tracker.release(cat.Code, family)
		if errors.Is(err, dcf.ErrRemoteRejected) {
			return nil, apierror.NewAPIError(apierror.ErrRemoteRejected, err.Error(), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to submit request to DCF", err)
	}

	now := l.now()
	pending := &model.PendingRequest{
		RequestID:  ticket.RequestID,
		Type:       req.Type,
		Requestor:  req.Requestor,
		Data:       data,
		Status:     model.StatusWaiting,
		Reconciled: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = l.datasource.WithTx(ctx, func(ctx context.Context) error {
		if err := l.datasource.RecordPendingRequest(ctx, pending); err != nil {
			return err
		}
		if _, err := l.datasource.AppendPendingRequestLog(ctx, pending.HistoryEntry(now)); err != nil {
			return err
		}
		if family == model.FamilyUpload {
			_, err := l.datasource.RecordChangeFile(ctx, model.ChangeFile{
				CatalogueID: cat.CatalogueID,
				Attachment:  req.Attachment,
				RequestID:   pending.RequestID,
				CreatedAt:   now,
			})
			return err
		}
		return nil
	})
	if err != nil {
		l.worker.tracker.release(cat.Code, family)
		notification.NotifyError(fmt.Errorf("dcf accepted request %s but it could not be stored: %w", ticket.RequestID, err))
		return nil, err
	}

	l.worker.tracker.bind(cat.Code, family, pending.RequestID)
	logrus.WithFields(logrus.Fields{
		"request_id": pending.RequestID,
		"type":       pending.Type,
		"catalogue":  cat.Code,
	}).Info("pending request submitted")

	// A terminal ticket without a response is fetched again by the poller
	// rather than settled as an error.
	settled := ticket.Status.IsTerminal() && ticket.Response != ""
	if model.StatusWaiting.Advances(ticket.Status) && (settled || !ticket.Status.IsTerminal()) {
		l.worker.Deliver(dcf.StatusUpdate{
			RequestID:  pending.RequestID,
			Report:     dcf.StatusReport{Status: ticket.Status, Response: ticket.Response, Log: ticket.Log},
			ReceivedAt: now,
		})
	}
	if !settled {
		last := model.StatusWaiting
		if model.StatusWaiting.Advances(ticket.Status) && !ticket.Status.IsTerminal() {
			last = ticket.Status
		}
		l.poller.Track(pending.RequestID, req.Requestor.Environment, last)
	}

	return pending, nil
}

func requestData(cat *model.Catalogue, req SubmitRequest) model.RequestData {
	var data model.RequestData
	data.Set(model.DataCatalogueCode, cat.Code)
	data.Set(model.DataCatalogueID, cat.CatalogueID)
	data.Set(model.DataCatalogueVersion, cat.Version.String())
	if req.Note != "" {
		data.Set(model.DataReservationNote, req.Note)
	}
	if req.Type.Family() == model.FamilyUpload {
		data.Set(model.DataAttachment, req.Attachment)
	}
	return data
}

func checkPreconditions(cat *model.Catalogue, req SubmitRequest) error {
	user := req.Requestor.Username
	if cat.CatalogueType != "" && cat.CatalogueType != req.Requestor.Environment {
		return apierror.NewAPIError(apierror.ErrPrecondition,
			fmt.Sprintf("catalogue %s belongs to the %s environment", cat.Code, cat.CatalogueType), nil)
	}

	switch req.Type.Family() {
	case model.FamilyReserve:
		switch st := cat.State().(type) {
		case model.NotReserved:
			return nil
		case model.ReservedProvisional:
			if st.User == user {
				return nil
			}
			return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s is being edited by %s", cat.Code, st.User), nil)
		case model.ReservedConfirmed:
			if st.User == user {
				return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s is already reserved by you", cat.Code), nil)
			}
			return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s is reserved by %s", cat.Code, st.User), nil)
		case model.ReservedByOther:
			return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s is reserved by %s", cat.Code, st.User), nil)
		}
	case model.FamilyUnreserve, model.FamilyUpload:
		if !cat.ReservedBy(user) {
			return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s is not reserved by %s", cat.Code, user), nil)
		}
	case model.FamilyPublish:
		if !cat.ReservedBy(user) {
			return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s is not reserved by %s", cat.Code, user), nil)
		}
		if !cat.CanPublish(user) {
			return apierror.NewAPIError(apierror.ErrPrecondition, fmt.Sprintf("catalogue %s has an unconfirmed temporary version", cat.Code), nil)
		}
	}
	return nil
}

// lookupCatalogue loads a catalogue by code and suggests a close match when it
// does not exist.
func (l *CatSync) lookupCatalogue(ctx context.Context, code string) (*model.Catalogue, error) {
	cat, err := l.datasource.GetCatalogueByCode(ctx, code)
	if err == nil {
		return cat, nil
	}
	if !apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, err
	}

	msg := fmt.Sprintf("catalogue %s not found", code)
	if suggestion := l.suggestCatalogue(ctx, code); suggestion != "" {
		msg += fmt.Sprintf(", did you mean %s?", suggestion)
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, msg, err)
}

func (l *CatSync) suggestCatalogue(ctx context.Context, code string) string {
	catalogues, err := l.datasource.GetAllCatalogues(ctx, suggestionScanLimit, 0)
	if err != nil {
		return ""
	}

	target := []rune(strings.ToUpper(code))
	best, bestDistance := "", -1
	for _, c := range catalogues {
		distance := levenshtein.DistanceForStrings(target, []rune(strings.ToUpper(c.Code)), levenshtein.DefaultOptions)
		if bestDistance == -1 || distance < bestDistance {
			best, bestDistance = c.Code, distance
		}
	}

	maxDistance := len(target) / 3
	if maxDistance < 2 {
		maxDistance = 2
	}
	if bestDistance == -1 || bestDistance > maxDistance {
		return ""
	}
	return best
}
