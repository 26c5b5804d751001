package main

import (
	"github.com/sw33tLie/nstg/cmd"
)

func main() {
	cmd.Execute()
}
