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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/foodcat/catsync"
	"github.com/foodcat/catsync/api"
	"github.com/foodcat/catsync/config"
	trace "github.com/foodcat/catsync/internal/traces"
	fanout "github.com/foodcat/catsync/notification"
)

const (
	sinkBuffer      = 256
	idleWaitTimeout = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func initializeRouter(engine *catsync.CatSync) *gin.Engine {
	return api.NewAPI(engine).Router()
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// startSinks attaches the console renderer, the shell lock and, when a
// webhook url is configured, the webhook forwarder to the engine brokers.
func startSinks(ctx context.Context, cfg *config.Configuration, engine *catsync.CatSync) (*fanout.ShellLock, func()) {
	console := fanout.NewConsoleSink(os.Stdout)
	go console.Run(ctx, engine.Events().Subscribe(sinkBuffer))

	shellLock := fanout.NewShellLock()
	go shellLock.Run(ctx, engine.WorkerStatus().Subscribe(sinkBuffer))

	closeSinks := func() {}
	if cfg.Notification.Webhook.Url != "" && cfg.Redis.Dns != "" {
		hooks, err := fanout.NewWebhookSink(cfg)
		if err != nil {
			logrus.Errorf("webhooks disabled: %v", err)
			return shellLock, closeSinks
		}
		go hooks.Run(ctx, engine.Events().Subscribe(sinkBuffer))
		closeSinks = func() { _ = hooks.Close() }
	}
	return shellLock, closeSinks
}

// waitForShutdown blocks until ctx is cancelled, then waits for the worker to
// finish the update it is processing before the process exits.
func waitForShutdown(ctx context.Context, shellLock *fanout.ShellLock, server *http.Server, engine *catsync.CatSync) {
	<-ctx.Done()
	if !shellLock.CanClose() {
		log.Println("Waiting for the pending request worker to finish...")
	}
	idleCtx, cancel := context.WithTimeout(context.Background(), idleWaitTimeout)
	defer cancel()
	if err := shellLock.WaitIdle(idleCtx); err != nil {
		logrus.Warnf("worker still busy after %s, stopping anyway", idleWaitTimeout)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error shutting down server: %v", err)
	}
	engine.Stop()
}

func serverCommands(app *catsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start catsync server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg := app.cnf

			shutdownTracing, err := initializeTracing(ctx, cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			engine, err := setupCatSync(cfg)
			if err != nil {
				log.Fatal(err)
			}
			app.catsync = engine

			sinkCtx, cancelSinks := context.WithCancel(context.Background())
			defer cancelSinks()
			shellLock, closeSinks := startSinks(sinkCtx, cfg, engine)
			defer closeSinks()

			if err := engine.Start(context.Background()); err != nil {
				log.Fatal(err)
			}

			server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: initializeRouter(engine)}
			go func() {
				log.Printf("Starting server on http://localhost:%s", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()

			waitForShutdown(ctx, shellLock, server, engine)
		},
	}

	return cmd
}
