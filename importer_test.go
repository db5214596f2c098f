package catsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/model"
)

type pollOnlyClient struct {
	dcf.Client
}

func TestDownloadImporter(t *testing.T) {
	remote := dcf.NewFakeClient()
	remote.SetCatalogue(dcf.CatalogueSnapshot{Code: "FOO", Version: model.Version{Major: 1, Internal: 7}})
	job := ImportJob{CatalogueCode: "FOO", Environment: model.EnvironmentTest, Version: model.Version{Major: 1, Internal: 6}}

	v, err := DownloadImporter(remote)(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "1.0.7", v.String())

	v, err = DownloadImporter(pollOnlyClient{Client: remote})(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "1.0.6", v.String())
}

func TestImporterReportsResults(t *testing.T) {
	results := make(chan ImportResult, 2)
	imp := newImporter(func(_ context.Context, job ImportJob) (model.Version, error) {
		if job.CatalogueCode == "BAD" {
			return model.Version{}, errors.New("download failed")
		}
		return job.Version, nil
	}, func(res ImportResult) { results <- res })
	defer imp.stop()

	require.True(t, imp.start(ImportJob{CatalogueCode: "FOO", Version: model.Version{Major: 2}}))
	require.True(t, imp.start(ImportJob{CatalogueCode: "BAD"}))

	got := map[string]ImportResult{}
	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			got[res.Job.CatalogueCode] = res
		case <-time.After(eventTimeout):
			t.Fatal("import did not report")
		}
	}
	assert.NoError(t, got["FOO"].Err)
	assert.Equal(t, model.Version{Major: 2}, got["FOO"].Version)
	assert.Error(t, got["BAD"].Err)
}

func TestImporterStopCancelsJobs(t *testing.T) {
	reported := make(chan ImportResult, 1)
	imp := newImporter(func(ctx context.Context, _ ImportJob) (model.Version, error) {
		<-ctx.Done()
		return model.Version{}, ctx.Err()
	}, func(res ImportResult) { reported <- res })

	require.True(t, imp.start(ImportJob{CatalogueCode: "FOO"}))
	imp.stop()
	assert.False(t, imp.start(ImportJob{CatalogueCode: "FOO"}))

	select {
	case <-reported:
		t.Fatal("cancelled import must not report")
	default:
	}
}
