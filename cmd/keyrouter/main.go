package main

import "github.com/set718/keyrouter/internal/cli"

func main() {
	cli.Execute()
}
