package main

import (
	"context"
	"fmt"
	"os"

	"github.com/eargollo/dicomcat/internal/cli"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
