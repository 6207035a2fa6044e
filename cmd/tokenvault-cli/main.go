package main

import (
	"tokenvault-backend/cmd/tokenvault-cli/cmd"
)

func main() {
	cmd.Execute()
}
