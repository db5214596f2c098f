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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/foodcat/catsync"
	"github.com/foodcat/catsync/config"
	"github.com/foodcat/catsync/database"
	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/internal/notification"
	redis_db "github.com/foodcat/catsync/internal/redis-db"
)

// CatSyncCLI represents the CLI application, encapsulating the root Cobra command.
type CatSyncCLI struct {
	cmd *cobra.Command
}

// catsyncInstance holds the loaded configuration and, for commands that run
// the engine, the engine itself.
type catsyncInstance struct {
	catsync    *catsync.CatSync
	cnf        *config.Configuration
	configFile string
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before running any command.
func preRun(app *catsyncInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(app.configFile)
		if err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// setupCatSync connects the data source, the DCF client and, when configured,
// Redis, and builds the engine on top of them.
func setupCatSync(cfg *config.Configuration) (*catsync.CatSync, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	var opts []catsync.Option
	if cfg.Redis.Dns != "" {
		rdb, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		opts = append(opts, catsync.WithRedis(rdb.Client()))
	}

	engine, err := catsync.NewCatSync(db, dcf.NewHTTPClient(cfg.DCF), opts...)
	if err != nil {
		notification.NotifyError(err)
		return nil, fmt.Errorf("error creating catsync: %v", err)
	}
	return engine, nil
}

// NewCLI creates the command-line interface with its server, worker,
// migration and client subcommands.
func NewCLI() *CatSyncCLI {
	app := &catsyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "catsync",
		Short: "DCF catalogue synchronization",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&app.configFile, "config", "./catsync.json", "Configuration file for catsync")
	rootCmd.PersistentPreRunE = preRun(app)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))
	for _, c := range clientCommands(app) {
		rootCmd.AddCommand(c)
	}

	return &CatSyncCLI{cmd: rootCmd}
}

func (c CatSyncCLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
