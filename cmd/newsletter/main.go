// Package main is the entry point for the newsletter service.
package main

import "newsletter/cmd/newsletter/commands"

func main() {
	commands.Execute()
}
