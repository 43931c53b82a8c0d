// Command docqa answers questions about free text and PDF documents.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"doc-qa/internal/answer"
	"doc-qa/internal/pdftext"
)

// errUsage marks malformed command lines.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &runtime{stdout: os.Stdout, stderr: os.Stderr}
	err := newRootCmd(rt).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docqa: %v\n", err)
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps failures to process status: 2 for bad input, 1 for model,
// inference and everything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage),
		errors.Is(err, answer.ErrInput),
		errors.Is(err, pdftext.ErrExtract),
		errors.Is(err, pdftext.ErrUnsupported),
		errors.Is(err, pdftext.ErrTooManyPages):
		return 2
	default:
		return 1
	}
}
