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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/foodcat/catsync"
	"github.com/foodcat/catsync/api/middleware"
	"github.com/foodcat/catsync/config"
	"github.com/foodcat/catsync/internal/apierror"
)

type Api struct {
	catsync *catsync.CatSync
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/worker/status", a.GetWorkerStatus)

	router.POST("/requests", a.SubmitRequest)
	router.GET("/requests", a.GetPendingRequests)
	router.GET("/requests/:id", a.GetPendingRequest)
	router.GET("/requests/:id/history", a.GetPendingRequestHistory)

	router.POST("/catalogues", a.RegisterCatalogue)
	router.GET("/catalogues", a.GetCatalogues)
	router.GET("/catalogues/:code", a.GetCatalogue)
	router.POST("/catalogues/:code/forced-edit", a.ForceEdit)
	return a.router
}

func NewAPI(c *catsync.CatSync) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(conf.ProjectName), middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware("/"))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{catsync: c, router: r}
}

// GetWorkerStatus reports whether the worker is idle or processing a status update.
func (a Api) GetWorkerStatus(c *gin.Context) {
	w := a.catsync.Worker()
	c.JSON(http.StatusOK, gin.H{
		"status":      a.catsync.WorkerState(),
		"running":     w.IsRunning(),
		"backlog":     w.Backlog(),
		"outstanding": w.Outstanding(),
		"polling":     a.catsync.Polling(),
	})
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
