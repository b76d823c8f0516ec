package main

import (
	"os"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
