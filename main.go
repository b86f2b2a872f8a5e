package main

import (
	"os"

	"github.com/banux/mathom/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
