package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/qlaunch/apps/qlaunchd/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "qlaunchd crashed: %v\n", r)
			if os.Getenv("QLAUNCH_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
