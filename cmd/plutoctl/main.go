package main

import "github.com/systeminit/pluto/cmd/plutoctl/cmd"

func main() {
	cmd.Execute()
}
