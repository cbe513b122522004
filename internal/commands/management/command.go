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

// Package management provides the commands and history CLI commands.
package management

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voxctl/voxctl/internal/commands/shared"
)

// NewCommandsCommand creates the commands command group.
func NewCommandsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Manage configured voice commands",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all commands, including discovered MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			commands := app.Commands.All(cmd.Context(), true)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tENABLED")
			for _, c := range commands {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", c.ID, c.Name, c.Action.Type, c.Enabled)
			}
			return w.Flush()
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <command-id>",
		Short: "Enable or disable a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			enabled, err := app.Commands.Toggle(args[0])
			if err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Printf("%s is now %s\n", args[0], state)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "delete <command-id>",
		Short: "Delete a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Commands.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, toggle, remove)
	return cmd
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the execution history",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.History.List(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tCOMMAND\tSTATUS\tDURATION")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2fs\n",
					e.ID, e.Timestamp, e.CommandName, e.Status, e.Duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			deleted, err := app.History.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d entries\n", deleted)
			return nil
		},
	}
	prune.Flags().Int("keep", 100, "number of recent entries to keep")
	cmd.AddCommand(prune)

	return cmd
}
