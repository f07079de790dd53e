package main

import (
	"os"

	"github.com/simply-migrate/simply-migrate/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
