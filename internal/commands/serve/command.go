// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxctl/voxctl/internal/api"
	"github.com/voxctl/voxctl/internal/commands/shared"
	"github.com/voxctl/voxctl/internal/task"
	"github.com/voxctl/voxctl/internal/watcher"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		configPath string
		port       int
		noWatch    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voxctl daemon",
		Long: `Serve runs the voxctl daemon: the transcript watcher that turns
dictated commands into actions, and the local HTTP API used by the
configuration UI.

The watcher needs ANTHROPIC_API_KEY to be set; without it only the
HTTP API is started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			for _, problem := range app.Config.Validate() {
				app.Logger.Warn("configuration problem", "error", problem)
			}
			if port == 0 {
				port = app.Config.Server.Port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var watcherFn task.Fn
			if app.Parser != nil {
				w := watcher.New(
					app.Config.Watcher.DBPath,
					app.Config.Watcher.ActivationWord,
					app.Config.Watcher.PollInterval,
					app.Parser,
					app.Runner,
					app.Logger,
				)
				watcherFn = w.Run

				if noWatch {
					app.Logger.Info("transcript watcher disabled by flag")
				} else if err := app.Supervisor.Start(ctx, "watcher", watcherFn); err != nil {
					return err
				}
			} else {
				app.Logger.Warn("ANTHROPIC_API_KEY not set, transcript watcher disabled")
			}

			deps := api.Deps{
				Config:     app.Config,
				Commands:   app.Commands,
				Manager:    app.Manager,
				Catalog:    app.Catalog,
				Installer:  app.Installer,
				History:    app.History,
				Runner:     app.Runner,
				Secrets:    app.Secrets,
				Supervisor: app.Supervisor,
				WatcherFn:  watcherFn,
			}
			if app.Parser != nil {
				deps.Parser = app.Parser
			}
			server := api.NewServer(deps, app.Logger)

			app.Logger.Info("voxctl daemon starting", "port", port)
			if err := server.ListenAndServe(ctx, port); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP API port (overrides config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not start the transcript watcher")
	return cmd
}
