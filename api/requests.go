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

	"github.com/foodcat/catsync"
	"github.com/foodcat/catsync/api/model"
	"github.com/foodcat/catsync/internal/apierror"
	model2 "github.com/foodcat/catsync/model"
)

// SubmitRequest sends a user action to DCF and returns the stored WAITING request.
func (a Api) SubmitRequest(c *gin.Context) {
	var newRequest model.CreateRequest
	if err := c.ShouldBindJSON(&newRequest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newRequest.ValidateCreateRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.catsync.Submit(c.Request.Context(), catsync.SubmitRequest{
		Type:          newRequest.RequestType(),
		Requestor:     newRequest.Requestor(),
		CatalogueCode: newRequest.CatalogueCode,
		Note:          newRequest.Note,
		Attachment:    newRequest.Attachment,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPendingRequest(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.catsync.GetPendingRequest(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetPendingRequests lists requests, newest first. The catalogue_code, type
// and status query parameters narrow the result.
func (a Api) GetPendingRequests(c *gin.Context) {
	filter := model2.PendingRequestFilter{
		CatalogueCode: c.Query("catalogue_code"),
		Status:        model2.Status(c.Query("status")),
	}
	if t := c.Query("type"); t != "" {
		parsed, err := model2.ParseRequestType(t)
		if err != nil {
			abortWithError(c, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err))
			return
		}
		filter.Type = parsed
	}

	limit, offset := paginationFromQuery(c)
	resp, err := a.catsync.GetPendingRequests(c.Request.Context(), filter, limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPendingRequestHistory(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id/history"})
		return
	}

	resp, err := a.catsync.GetPendingRequestHistory(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
