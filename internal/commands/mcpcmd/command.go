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

// Package mcpcmd provides the mcp CLI command group.
package mcpcmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxctl/voxctl/internal/commands/shared"
)

// NewCommand creates the mcp command group.
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect and call MCP servers",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tENABLED\tSOURCE")
			for _, view := range app.Registry.List() {
				source := view.Source
				if source == "" {
					source = "custom"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					view.ID, view.Name, view.Transport, view.Enabled, source)
			}
			return w.Flush()
		},
	}

	tools := &cobra.Command{
		Use:   "tools [server-id]",
		Short: "List tools discovered on MCP servers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
			if len(args) == 1 {
				serverTools, err := app.Manager.ListTools(cmd.Context(), args[0], refresh)
				if err != nil {
					return err
				}
				for _, tool := range serverTools {
					fmt.Fprintf(w, "%s\t%s\t%s\n", tool.ServerName, tool.Name, truncate(tool.Description, 60))
				}
			} else {
				for _, tool := range app.Manager.ListAllTools(cmd.Context(), refresh) {
					fmt.Fprintf(w, "%s\t%s\t%s\n", tool.ServerName, tool.Name, truncate(tool.Description, 60))
				}
			}
			return w.Flush()
		},
	}
	tools.Flags().Bool("refresh", false, "bypass the tool cache")

	call := &cobra.Command{
		Use:   "call <server-id> <tool>",
		Short: "Call an MCP tool directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			argPairs, _ := cmd.Flags().GetStringArray("arg")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			arguments := map[string]any{}
			for _, pair := range argPairs {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					return fmt.Errorf("invalid --arg %q, want key=value", pair)
				}
				arguments[key] = value
			}

			result, err := app.Manager.CallTool(cmd.Context(), args[0], args[1], arguments, timeout)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	call.Flags().StringArray("arg", nil, "tool argument as key=value (repeatable)")
	call.Flags().Duration("timeout", 30*time.Second, "tool call timeout")

	cmd.AddCommand(list, tools, call)
	return cmd
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
