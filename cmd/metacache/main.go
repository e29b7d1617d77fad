package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp(os.Stdout, openRuntime)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "metacache: %v\n", err)
		os.Exit(1)
	}
}
