package main

import (
	"context"
	"os"

	"github.com/lvcoi/m3u8-dl/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
