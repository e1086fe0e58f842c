package main

import (
	"github.com/businesswalrus/pup.ai/cmd"
)

func main() {
	cmd.Execute()
}
