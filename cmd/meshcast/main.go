package main

import "github.com/meshcast/meshcast/cmd/meshcast/commands"

func main() {
	commands.Execute()
}
