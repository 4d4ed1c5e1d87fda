// Command positions keeps a local replica of the earthquake positions feed.
package main

import (
	"context"
	"os"

	"github.com/roach88/positions/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
