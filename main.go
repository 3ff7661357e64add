package main

import (
	"os"

	"github.com/kohki-shikata/psbg-boilerplate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
