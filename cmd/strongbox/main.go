package main

import "github.com/vueni/strongbox/cmd/strongbox/cmd"

func main() {
	cmd.Execute()
}
