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

package run

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxctl/voxctl/internal/commands/shared"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		configPath string
		params     []string
		transcript string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "run <command-id>",
		Short: "Execute a configured command",
		Long: `Run executes one configured command directly, bypassing voice
parsing. Parameters are passed as repeated --param key=value flags.

Examples:
  voxctl run weather.check --param city=Berlin
  voxctl run mcp.github.create_issue --param title="Fix the build"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			parameters := map[string]any{}
			for _, pair := range params {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					return fmt.Errorf("invalid --param %q, want key=value", pair)
				}
				parameters[key] = value
			}

			result, logID := app.Runner.Run(cmd.Context(), args[0], parameters, transcript)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"result": result, "log_id": logID})
			}

			if result.Success {
				fmt.Printf("✓ %s (%.2fs)\n", result.CommandName, result.Duration)
				if result.Output != "" {
					fmt.Println(result.Output)
				}
			} else {
				fmt.Fprintf(os.Stderr, "✗ %s: %s\n", result.CommandName, result.Error)
				if result.Output != "" {
					fmt.Fprintln(os.Stderr, result.Output)
				}
			}
			if logID != 0 {
				fmt.Printf("(history entry %d)\n", logID)
			}
			if !result.Success {
				return fmt.Errorf("command failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().StringArrayVar(&params, "param", nil, "command parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&transcript, "transcript", "", "original spoken text, enables read-aloud")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	return cmd
}
