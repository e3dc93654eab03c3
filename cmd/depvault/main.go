package main

import "depvault/internal/cli"

func main() {
	cli.Execute()
}
