package main

import (
	"fmt"
	"os"

	commands "github.com/qwc-services/qwc-ogc-service/cmd/commands"
)

func printCommandsList() {
	fmt.Println("Commands:")
	fmt.Println("  serve")
}

func main() {
	if len(os.Args) < 2 {
		printCommandsList()
		return
	}
	cmd := os.Args[1]
	os.Args = os.Args[1:]

	switch cmd {
	case "serve":
		runCommand(commands.Serve)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printCommandsList()
	}
}

func runCommand(command func() error) {
	if err := command(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
