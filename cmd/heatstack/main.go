package main

import (
	"fmt"
	"os"

	"github.com/heatstack-io/heatstack/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
