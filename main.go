package main

import (
	"github.com/rehearse-io/rehearse/cmd"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
