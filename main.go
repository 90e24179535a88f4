package main

import (
	"os"

	"github.com/akemora/Granter-2.0-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
