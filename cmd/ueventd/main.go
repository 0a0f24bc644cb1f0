package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"ueventd/internal/coldboot"
)

// Exit codes. A fatal cold-boot failure gets its own code so init scripts
// can tell it apart from usage and config errors.
const (
	exitOK            = 0
	exitFailure       = 1
	exitColdBootFatal = 2
)

func main() {
	os.Exit(exitCode(newRootCommand().Execute(), os.Stderr))
}

// exitCode reports err on stderr and maps it to a process exit code.
// Cancellation is not reported; it is how the daemon stops on a signal.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitFailure
	}
	fmt.Fprintf(stderr, "ueventd: %v\n", err)
	var fatal *coldboot.FatalError
	if errors.As(err, &fatal) {
		return exitColdBootFatal
	}
	return exitFailure
}
