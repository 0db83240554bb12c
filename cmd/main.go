/*
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

	outclick "github.com/outclick-labs/outclick"
	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/database"
	"github.com/outclick-labs/outclick/internal/notification"
)

// Outclick represents the CLI application, encapsulating the root command.
type Outclick struct {
	cmd *cobra.Command
}

// outclickInstance holds the engine and configuration shared by subcommands.
type outclickInstance struct {
	engine *outclick.Outclick
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command.
func preRun(app *outclickInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("outclick.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupEngine(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.engine = engine
		app.cnf = cnf
		return nil
	}
}

func setupEngine(cfg *config.Configuration) (*outclick.Outclick, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	engine, err := outclick.NewOutclick(db)
	if err != nil {
		return nil, fmt.Errorf("error creating engine: %v", err)
	}
	return engine, nil
}

// NewCLI creates the command-line interface for the conversion engine.
func NewCLI() *Outclick {
	var configFile string
	o := &outclickInstance{}

	var rootCmd = &cobra.Command{
		Use:   "outclick",
		Short: "Conversion lifecycle and notification engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./outclick.json", "Configuration file for the engine")
	rootCmd.PersistentPreRunE = preRun(o)

	rootCmd.AddCommand(serverCommands(o))
	rootCmd.AddCommand(workerCommands(o))

	return &Outclick{cmd: rootCmd}
}

func (w Outclick) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
