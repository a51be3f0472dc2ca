// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets.
type Test mg.Namespace

// All runs every test.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Unit runs tests in short mode.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Cover runs every test and writes coverage to bin/coverage.out.
func (Test) Cover() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "test", "-coverprofile="+binaryDir+"/coverage.out", "./...")
}

// Postgres runs the SQL storage tests against the database in TALLY_TEST_DSN.
func (Test) Postgres() error {
	if os.Getenv("TALLY_TEST_DSN") == "" {
		fmt.Println("TALLY_TEST_DSN is not set; skipping Postgres tests.")
		return nil
	}
	return sh.RunV(binGo, "test", "-v", "-run", "Postgres", "./internal/sqlstore/...")
}
