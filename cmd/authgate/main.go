// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the authgate CLI.
package main

import (
	"os"

	"github.com/lanolabs/authgate/cmd/authgate/app"
	"github.com/lanolabs/authgate/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
