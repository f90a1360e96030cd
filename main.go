package main

import (
	"fmt"
	"os"

	"github.com/Abhi-Verma2005/oms-assistant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
