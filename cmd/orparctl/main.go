package main

import (
	"fmt"
	"os"
	"time"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
