package main

import (
	"os"

	"github.com/openlexbr/douflow/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
