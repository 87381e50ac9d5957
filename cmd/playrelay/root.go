// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PlayRelay CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playrelay",
		Short: "PlayRelay - A realtime multiplayer session server",
		Long: `PlayRelay is a realtime multiplayer session server: it manages
player identities and tokens over websockets and broadcasts the shared
object state to every connected client on a fixed tick.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
