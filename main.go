package main

import (
	"fmt"
	"os"
)

// main trains, evaluates, or plots the results of a TD3 agent on robot
// navigation
func main() {
	rootCommand := RootCommand()
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
