// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/scandock/scandock/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
