/*
Copyright 2024 Confere Labs Authors.

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

	"github.com/conferelabs/confere"
	"github.com/conferelabs/confere/config"
	"github.com/conferelabs/confere/internal/notification"
)

// Confere represents the CLI application, encapsulating the root Cobra command.
type Confere struct {
	cmd *cobra.Command
}

// confereInstance holds the service instance and its configuration, shared
// across subcommands.
type confereInstance struct {
	svc *confere.Confere
	cnf *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance before
// running any command.
func preRun(app *confereInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		svc, err := confere.NewConfere()
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.svc = svc
		app.cnf = cnf

		return nil
	}
}

// NewCLI creates the command-line interface for the Confere application.
func NewCLI() *Confere {
	var configFile string
	b := &confereInstance{}

	var rootCmd = &cobra.Command{
		Use:   "confere",
		Short: "Receipt and bank statement reconciliation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./confere.json", "Configuration file for confere")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Confere{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during
// execution.
func (w Confere) executeCLI() {
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
