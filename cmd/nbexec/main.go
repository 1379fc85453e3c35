package main

import (
	"os"

	"github.com/yoanbernabeu/nbexec/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
