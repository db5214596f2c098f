package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusWaiting.Advances(StatusQueued))
	assert.True(t, StatusQueued.Advances(StatusDownloading))
	assert.True(t, StatusDownloading.Advances(StatusCompleted))
	assert.True(t, StatusWaiting.Advances(StatusError))

	assert.False(t, StatusQueued.Advances(StatusQueued), "duplicate")
	assert.False(t, StatusDownloading.Advances(StatusQueued), "regression")
	assert.False(t, StatusCompleted.Advances(StatusError), "second terminal")
	assert.False(t, StatusError.Advances(StatusCompleted), "second terminal")
	assert.False(t, StatusWaiting.Advances(Status("BOGUS")))

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusDownloading.IsTerminal())
}

func TestParseRequestType(t *testing.T) {
	tests := map[string]RequestType{
		"ReserveMinor":     RequestReserveMinor,
		"RESERVE_MAJOR":    RequestReserveMajor,
		"unreserve":        RequestUnreserve,
		"PublishMinor":     RequestPublishMinor,
		"publish_major":    RequestPublishMajor,
		"UploadXmlData":    RequestUploadXmlData,
		"UploadXmlChanges": RequestUploadXmlData,
	}
	for in, want := range tests {
		got, err := ParseRequestType(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRequestType("Delete")
	assert.Error(t, err)
}

func TestRequestTypeFamilyAndLevel(t *testing.T) {
	assert.Equal(t, FamilyReserve, RequestReserveMinor.Family())
	assert.Equal(t, FamilyReserve, RequestReserveMajor.Family())
	assert.Equal(t, FamilyPublish, RequestPublishMajor.Family())
	assert.Equal(t, FamilyUnreserve, RequestUnreserve.Family())
	assert.Equal(t, FamilyUpload, RequestUploadXmlData.Family())
	assert.False(t, RequestType("NOPE").Valid())

	assert.Equal(t, LevelMinor, RequestReserveMinor.Level())
	assert.Equal(t, LevelMajor, RequestPublishMajor.Level())
	assert.Equal(t, Level(""), RequestUnreserve.Level())
}

func TestRequestDataKeepsOrder(t *testing.T) {
	var data RequestData
	data.Set(DataCatalogueCode, "FOO")
	data.Set(DataReservationNote, "fix typos")
	data.Set(DataCatalogueID, "cat_1")
	data.Set(DataCatalogueCode, "BAR")

	assert.Equal(t, []string{DataCatalogueCode, DataReservationNote, DataCatalogueID}, data.Keys())
	assert.Equal(t, "BAR", data.Value(DataCatalogueCode))
	_, ok := data.Get(DataAttachment)
	assert.False(t, ok)

	b, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"key":"catalogueCode","value":"BAR"},{"key":"reservationNote","value":"fix typos"},{"key":"catalogueId","value":"cat_1"}]`, string(b))
}

func TestPendingRequestCloneIsDeep(t *testing.T) {
	req := &PendingRequest{
		RequestID: "req-1",
		Data:      RequestData{{Key: DataCatalogueCode, Value: "FOO"}},
		Log:       &PendingLog{LastInternalVersion: "1.0.1", NodeErrors: []NodeError{{Node: "A01", Message: "bad"}}},
	}
	clone := req.Clone()
	clone.Data.Set(DataCatalogueCode, "BAR")
	clone.Log.NodeErrors[0].Message = "changed"

	assert.Equal(t, "FOO", req.CatalogueCode())
	assert.Equal(t, "bad", req.Log.NodeErrors[0].Message)
}

func TestPendingLogLastInternal(t *testing.T) {
	var missing *PendingLog
	_, ok := missing.LastInternal()
	assert.False(t, ok)

	v, ok := (&PendingLog{LastInternalVersion: "v1.1"}).LastInternal()
	assert.True(t, ok)
	assert.Equal(t, Version{Major: 1, Minor: 1}, v)

	_, ok = (&PendingLog{LastInternalVersion: "garbage"}).LastInternal()
	assert.False(t, ok)
}

func TestHistoryEntryUsesRank(t *testing.T) {
	req := &PendingRequest{RequestID: "req-1", Status: StatusDownloading}
	entry := req.HistoryEntry(req.UpdatedAt)
	assert.Equal(t, 2, entry.Seq)
	assert.Equal(t, StatusDownloading, entry.Status)
}
