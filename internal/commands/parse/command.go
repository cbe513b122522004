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

package parse

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxctl/voxctl/internal/commands/shared"
)

// NewCommand creates the parse command.
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Match a transcript against the configured commands",
		Long: `Parse runs the voice command matcher on the given text and prints
the result without executing anything. Useful for testing phrases.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := shared.Build(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Parser == nil {
				return fmt.Errorf("parsing requires ANTHROPIC_API_KEY to be set")
			}

			result := app.Parser.Parse(cmd.Context(), strings.Join(args, " "))

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	return cmd
}
