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

package notification

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/foodcat/catsync/model"
)

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Message is one rendered console line. Dialog asks the UI to also show it
// as a modal summary.
type Message struct {
	Severity Severity
	Text     string
	Dialog   bool
}

type template struct {
	severity Severity
	text     string
}

var terminalTemplates = map[model.RequestFamily]map[model.Response]template{
	model.FamilyReserve: {
		model.ResponseOK:        {SeverityInfo, "Catalogue {code} reserved at {level} level by {user}."},
		model.ResponseError:     {SeverityError, "Reservation of catalogue {code} by {user} was refused by DCF."},
		model.ResponseAmbiguous: {SeverityWarn, "Reservation of catalogue {code} is still pending upstream, check later."},
	},
	model.FamilyUnreserve: {
		model.ResponseOK:        {SeverityInfo, "Catalogue {code} unreserved by {user}."},
		model.ResponseError:     {SeverityError, "Unreserve of catalogue {code} failed, the reservation is unchanged."},
		model.ResponseAmbiguous: {SeverityWarn, "Unreserve of catalogue {code} is still pending upstream, check later."},
	},
	model.FamilyPublish: {
		model.ResponseOK:        {SeverityInfo, "Catalogue {code} published at {level} level."},
		model.ResponseError:     {SeverityError, "Publication of catalogue {code} failed."},
		model.ResponseAmbiguous: {SeverityWarn, "Publication of catalogue {code} is still pending upstream, check later."},
	},
	model.FamilyUpload: {
		model.ResponseOK:        {SeverityInfo, "Change file for catalogue {code} applied by DCF."},
		model.ResponseError:     {SeverityError, "Change file for catalogue {code} was rejected, it stays pending."},
		model.ResponseAmbiguous: {SeverityWarn, "Change file for catalogue {code} is still pending upstream, check later."},
	},
}

var actionTemplates = map[model.ActionKind]template{
	model.ActionLIVImportStarted:          {SeverityInfo, "Importing last internal version {liv} of catalogue {code}."},
	model.ActionLIVImported:               {SeverityInfo, "Catalogue {code} updated to last internal version {new}."},
	model.ActionTempCatCreated:            {SeverityInfo, "Temporary version {new} of catalogue {code} created."},
	model.ActionTempCatConfirmed:          {SeverityInfo, "Temporary version of catalogue {code} confirmed as {new}."},
	model.ActionTempCatInvalidNoReserve:   {SeverityWarn, "Temporary version {old} of catalogue {code} discarded, the reservation was not granted."},
	model.ActionTempCatInvalidLIV:         {SeverityWarn, "Temporary version {old} of catalogue {code} discarded, DCF holds newer version {liv}."},
	model.ActionTempCatInvalidAmbiguous:   {SeverityWarn, "Temporary version {old} of catalogue {code} discarded while the reservation is pending upstream."},
	model.ActionNewInternalVersionCreated: {SeverityInfo, "New internal version {new} of catalogue {code} created from {old}."},
	model.ActionCatalogueUnreserved:       {SeverityInfo, "Catalogue {code} is no longer reserved."},
	model.ActionCataloguePublished:        {SeverityInfo, "Catalogue {code} is now published as {new}."},
	model.ActionChangeFileApplied:         {SeverityInfo, "Change files of catalogue {code} marked as applied."},
}

const queuedTemplate = "Request {id} ({type}) for catalogue {code} queued by DCF."

// RenderEvent maps an engine event to its console message. Terminal status
// changes produce exactly one message keyed by request family and response,
// QUEUED a status line, and every action its own line. WAITING and
// DOWNLOADING are not rendered.
func RenderEvent(ev model.Event) (Message, bool) {
	switch {
	case ev.StatusChanged != nil:
		return renderStatus(*ev.StatusChanged)
	case ev.ActionPerformed != nil:
		return renderAction(*ev.ActionPerformed)
	}
	return Message{}, false
}

func renderStatus(e model.StatusChangedEvent) (Message, bool) {
	r := strings.NewReplacer(
		"{id}", e.RequestID,
		"{type}", string(e.Type),
		"{code}", e.CatalogueCode,
		"{user}", e.Request.Requestor.Username,
		"{level}", strings.ToLower(string(e.Type.Level())),
	)
	family := e.Type.Family()

	if e.NewStatus.IsTerminal() {
		response := e.Response
		if response == "" || (e.NewStatus == model.StatusError && response == model.ResponseOK) {
			response = model.ResponseError
		}
		tpl, ok := terminalTemplates[family][response]
		if !ok {
			return Message{}, false
		}
		text := r.Replace(tpl.text)
		if tpl.severity == SeverityError && e.Request.Log.HasErrors() {
			text += " " + nodeErrors(e.Request.Log.NodeErrors)
		}
		return Message{
			Severity: tpl.severity,
			Text:     text,
			Dialog:   family == model.FamilyReserve || family == model.FamilyPublish,
		}, true
	}

	if e.NewStatus == model.StatusQueued {
		return Message{Severity: SeverityInfo, Text: r.Replace(queuedTemplate)}, true
	}
	return Message{}, false
}

func nodeErrors(errs []model.NodeError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Node+": "+e.Message)
	}
	return "Node errors: " + strings.Join(parts, "; ") + "."
}

func renderAction(e model.ActionPerformedEvent) (Message, bool) {
	tpl, ok := actionTemplates[e.Action]
	if !ok {
		return Message{}, false
	}
	r := strings.NewReplacer(
		"{code}", e.CatalogueCode,
		"{old}", e.OldVersion,
		"{new}", e.NewVersion,
		"{liv}", e.LastInternalVersion,
	)
	return Message{Severity: tpl.severity, Text: r.Replace(tpl.text)}, true
}

// ConsoleSink writes rendered events to out, one line each. Dialog messages
// are also handed to OnDialog when set.
type ConsoleSink struct {
	mu       sync.Mutex
	out      io.Writer
	OnDialog func(Message)
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (c *ConsoleSink) Write(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "[%s] %s\n", m.Severity, m.Text)
	if m.Dialog && c.OnDialog != nil {
		c.OnDialog(m)
	}
}

// Run consumes sub until it ends or ctx is done.
func (c *ConsoleSink) Run(ctx context.Context, sub *Subscription[model.Event]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if m, ok := RenderEvent(ev); ok {
				c.Write(m)
			}
		}
	}
}
