// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
/*
This is the entrypoint for the spillway binary.
*/
package main

import (
	"fmt"
	"os"

	"github.com/featurebasedb/spillway/cmd"
	"github.com/featurebasedb/spillway/shutdown"
)

func main() {
	// Local directories are removed on return and on a panic.
	defer shutdown.Guard()
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		shutdown.Exit(1)
	}
}
