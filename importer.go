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
	"sync"

	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/model"
	"github.com/sirupsen/logrus"
)

// ImportJob asks for the last internal version of a catalogue to be imported
// from DCF after a failed reservation.
type ImportJob struct {
	CatalogueCode string
	Environment   model.Environment
	Version       model.Version
	RequestID     string
}

// ImportResult is reported back to the worker once a job finishes.
type ImportResult struct {
	Job     ImportJob
	Version model.Version
	Err     error
}

// ImportFunc downloads the catalogue described by job and returns the version
// that was imported.
type ImportFunc func(ctx context.Context, job ImportJob) (model.Version, error)

// DownloadImporter imports through the DCF client when it can download
// catalogues. Otherwise the reported version is accepted as is.
func DownloadImporter(client dcf.Client) ImportFunc {
	downloader, ok := client.(dcf.Downloader)
	return func(ctx context.Context, job ImportJob) (model.Version, error) {
		if !ok {
			return job.Version, nil
		}
		snapshot, err := downloader.DownloadCatalogue(ctx, job.Environment, job.CatalogueCode, job.Version)
		if err != nil {
			return model.Version{}, err
		}
		return snapshot.Version, nil
	}
}

// importer runs import jobs off the worker loop and hands the results back
// through report.
type importer struct {
	fn     ImportFunc
	report func(ImportResult)

	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newImporter(fn ImportFunc, report func(ImportResult)) *importer {
	ctx, cancel := context.WithCancel(context.Background())
	return &importer{fn: fn, report: report, ctx: ctx, cancel: cancel}
}

// start runs job in the background. It returns false once the importer is
// stopped.
func (i *importer) start(job ImportJob) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return false
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		version, err := i.fn(i.ctx, job)
		if i.ctx.Err() != nil {
			return
		}
		if err != nil {
			logrus.WithField("catalogue", job.CatalogueCode).Errorf("import of version %s failed: %v", job.Version, err)
		}
		i.report(ImportResult{Job: job, Version: version, Err: err})
	}()
	return true
}

// stop cancels running jobs and waits for them to return.
func (i *importer) stop() {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.stopped = true
	i.mu.Unlock()

	i.cancel()
	i.wg.Wait()
}
