// Command queryloader runs content queries through the reactive query loader.
//
//	queryloader query '*[_type == "post"][0]' -p slug=hello
//	queryloader watch '*[_type == "post"]' --live
//
// Configuration is read from --config (YAML) and QUERYLOADER_* environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "queryloader: %v\n", err)
		return 1
	}

	return 0
}
