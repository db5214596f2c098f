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
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/foodcat/catsync/model"
)

// CreateRequest is the body of POST /requests.
type CreateRequest struct {
	Type          string `json:"type"`
	Username      string `json:"username"`
	Environment   string `json:"environment,omitempty"`
	CatalogueCode string `json:"catalogue_code"`
	Note          string `json:"note,omitempty"`
	Attachment    string `json:"attachment,omitempty"`
}

// CreateCatalogue is the body of POST /catalogues.
type CreateCatalogue struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	CatalogueType string `json:"catalogue_type,omitempty"`
	Version       string `json:"version,omitempty"`
}

// ForcedEdit is the body of POST /catalogues/:code/forced-edit.
type ForcedEdit struct {
	User  string `json:"user"`
	Level string `json:"level,omitempty"`
}

func requestTypeValidation(value interface{}) error {
	s, _ := value.(string)
	if _, err := model.ParseRequestType(s); err != nil {
		return err
	}
	return nil
}

func environmentValidation(value interface{}) error {
	s, _ := value.(string)
	if _, err := model.ParseEnvironment(s); err != nil {
		return err
	}
	return nil
}

func versionValidation(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := model.ParseVersion(s); err != nil {
		return errors.New("version must look like 1.2.0")
	}
	return nil
}

func (r *CreateRequest) ValidateCreateRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Type, validation.Required, validation.By(requestTypeValidation)),
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Environment, validation.By(environmentValidation)),
		validation.Field(&r.CatalogueCode, validation.Required),
	)
}

// RequestType returns the parsed request type. Call after validation.
func (r *CreateRequest) RequestType() model.RequestType {
	t, _ := model.ParseRequestType(r.Type)
	return t
}

// Requestor returns the DCF user of the request. An empty environment is left
// for the engine to default.
func (r *CreateRequest) Requestor() model.Requestor {
	req := model.Requestor{Username: strings.TrimSpace(r.Username)}
	if r.Environment != "" {
		req.Environment, _ = model.ParseEnvironment(r.Environment)
	}
	return req
}

func (c *CreateCatalogue) ValidateCreateCatalogue() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Code, validation.Required),
		validation.Field(&c.CatalogueType, validation.By(environmentValidation)),
		validation.Field(&c.Version, validation.By(versionValidation)),
	)
}

// ToCatalogue converts the payload into a catalogue record. Call after validation.
func (c *CreateCatalogue) ToCatalogue() model.Catalogue {
	cat := model.Catalogue{Code: strings.TrimSpace(c.Code), Name: c.Name}
	if c.CatalogueType != "" {
		cat.CatalogueType, _ = model.ParseEnvironment(c.CatalogueType)
	}
	if c.Version != "" {
		cat.Version, _ = model.ParseVersion(c.Version)
	}
	return cat
}

func (f *ForcedEdit) ValidateForcedEdit() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.User, validation.Required),
		validation.Field(&f.Level, validation.In("", string(model.LevelMinor), string(model.LevelMajor))),
	)
}

// EditLevel returns the requested level, MINOR when none was given.
func (f *ForcedEdit) EditLevel() model.Level {
	if f.Level == "" {
		return model.LevelMinor
	}
	return model.Level(f.Level)
}
