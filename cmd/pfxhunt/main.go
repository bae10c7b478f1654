package main

import "github.com/stupidcerts/pfxhunt/cmd/pfxhunt/cmd"

func main() {
	cmd.Execute()
}
