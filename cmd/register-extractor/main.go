package main

import (
	"os"

	"github.com/spherical/register-extractor/cmd/register-extractor/commands"
	"github.com/spherical/register-extractor/cmd/register-extractor/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
