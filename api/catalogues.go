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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foodcat/catsync/api/model"
)

func (a Api) RegisterCatalogue(c *gin.Context) {
	var newCatalogue model.CreateCatalogue
	if err := c.ShouldBindJSON(&newCatalogue); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newCatalogue.ValidateCreateCatalogue(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.catsync.RegisterCatalogue(c.Request.Context(), newCatalogue.ToCatalogue())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetCatalogue(c *gin.Context) {
	code, passed := c.Params.Get("code")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required. pass code in the route /:code"})
		return
	}

	resp, err := a.catsync.GetCatalogue(c.Request.Context(), code)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetCatalogues(c *gin.Context) {
	limit, offset := paginationFromQuery(c)
	resp, err := a.catsync.GetCatalogues(c.Request.Context(), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ForceEdit starts editing a catalogue locally ahead of the DCF reservation.
func (a Api) ForceEdit(c *gin.Context) {
	code, passed := c.Params.Get("code")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required. pass code in the route /:code/forced-edit"})
		return
	}

	var edit model.ForcedEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := edit.ValidateForcedEdit(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := a.catsync.ForceEdit(ctx, code, edit.User, edit.EditLevel()); err != nil {
		abortWithError(c, err)
		return
	}
	resp, err := a.catsync.GetCatalogue(ctx, code)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
