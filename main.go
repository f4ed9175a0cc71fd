package main

import (
	"os"

	"github/itish2003/multimodal-rag/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
