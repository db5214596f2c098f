package model

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/foodcat/catsync/model"
)

func TestValidateCreateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr bool
	}{
		{name: "valid", req: CreateRequest{Type: "RESERVE_MINOR", Username: gofakeit.Username(), CatalogueCode: "FOOD"}},
		{name: "boundary type name", req: CreateRequest{Type: "PublishMajor", Username: gofakeit.Username(), CatalogueCode: "FOOD"}},
		{name: "missing type", req: CreateRequest{Username: gofakeit.Username(), CatalogueCode: "FOOD"}, wantErr: true},
		{name: "unknown type", req: CreateRequest{Type: "DELETE", Username: gofakeit.Username(), CatalogueCode: "FOOD"}, wantErr: true},
		{name: "missing username", req: CreateRequest{Type: "UNRESERVE", CatalogueCode: "FOOD"}, wantErr: true},
		{name: "unknown environment", req: CreateRequest{Type: "UNRESERVE", Username: "ana", Environment: "STAGING", CatalogueCode: "FOOD"}, wantErr: true},
		{name: "missing catalogue", req: CreateRequest{Type: "UNRESERVE", Username: "ana"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.ValidateCreateRequest()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateRequestConversion(t *testing.T) {
	req := CreateRequest{Type: "reserveMajor", Username: " ana ", Environment: "prod", CatalogueCode: "FOOD"}
	assert.Equal(t, model.RequestReserveMajor, req.RequestType())
	assert.Equal(t, model.Requestor{Username: "ana", Environment: model.EnvironmentProduction}, req.Requestor())

	req.Environment = ""
	assert.Equal(t, model.Environment(""), req.Requestor().Environment)
}

func TestCreateCatalogue(t *testing.T) {
	c := CreateCatalogue{Code: "FOOD", Name: "Food", CatalogueType: "TEST", Version: "2.1.0"}
	assert.NoError(t, c.ValidateCreateCatalogue())

	cat := c.ToCatalogue()
	assert.Equal(t, "FOOD", cat.Code)
	assert.Equal(t, model.EnvironmentTest, cat.CatalogueType)
	assert.Equal(t, model.Version{Major: 2, Minor: 1}, cat.Version)

	assert.Error(t, (&CreateCatalogue{Code: "FOOD", Version: "two"}).ValidateCreateCatalogue())
	assert.Error(t, (&CreateCatalogue{Name: "Food"}).ValidateCreateCatalogue())
}

func TestForcedEdit(t *testing.T) {
	f := ForcedEdit{User: "ana"}
	assert.NoError(t, f.ValidateForcedEdit())
	assert.Equal(t, model.LevelMinor, f.EditLevel())

	f.Level = "MAJOR"
	assert.NoError(t, f.ValidateForcedEdit())
	assert.Equal(t, model.LevelMajor, f.EditLevel())

	assert.Error(t, (&ForcedEdit{User: "ana", Level: "PATCH"}).ValidateForcedEdit())
	assert.Error(t, (&ForcedEdit{}).ValidateForcedEdit())
}
