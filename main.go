package main

import (
	"github.com/luma/worldql/cmd"
)

func main() {
	cmd.Execute()
}
