// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the authgate command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/lanolabs/authgate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "authgate",
	DisableAutoGenTag: true,
	Short:             "Authentication gateway for the Lano platform",
	Long: `Authgate issues and verifies credentials for the Lano platform: OAuth 2.0
authorization-code tokens with PKCE, long-lived API keys, and browser sessions.
It resolves any of these to a unified identity and streams auth events to the
platform's projection endpoint through a transactional outbox.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorw("displaying help", "error", err.Error())
		}
	},
}

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	return rootCmd
}
