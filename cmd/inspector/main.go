package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"inspector/internal/commands"
)

const version = "0.1.0"

func main() {
	root := commands.NewRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}
