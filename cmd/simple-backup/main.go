// Package main is the entry point for simple-backup.
package main

import (
	"os"

	"github.com/fgeck/simple-backup/internal/apperrors"
)

func main() {
	os.Exit(apperrors.ExitCode(Execute()))
}
