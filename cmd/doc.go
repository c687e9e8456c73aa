// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains all the spillway subcommand definitions (1 per file).

Each new*Command function returns a cobra.Command wrapping one subcommand;
the work itself lives in the ctl and server packages so that it can be
tested without cobra.
*/
package cmd
