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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxctl/voxctl/internal/commands/management"
	"github.com/voxctl/voxctl/internal/commands/mcpcmd"
	"github.com/voxctl/voxctl/internal/commands/parse"
	"github.com/voxctl/voxctl/internal/commands/run"
	"github.com/voxctl/voxctl/internal/commands/serve"
	versioncmd "github.com/voxctl/voxctl/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	versioncmd.Set(version, commit, buildDate)

	rootCmd := &cobra.Command{
		Use:   "voxctl",
		Short: "Voice command automation for desktop dictation",
		Long: `voxctl turns dictated phrases into actions: shell scripts, HTTP
requests, and MCP tool calls. It watches your transcription app's
database for commands, matches them with an LLM, and executes the
configured action.`,
		Version:       versioncmd.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(parse.NewCommand())
	rootCmd.AddCommand(management.NewCommandsCommand())
	rootCmd.AddCommand(management.NewHistoryCommand())
	rootCmd.AddCommand(mcpcmd.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
