package main

import (
	"github.com/canvas-ai/canvas-stored/cmd/stored/cmd"
)

func main() {
	cmd.Execute()
}
