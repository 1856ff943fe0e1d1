package main

import "go-forge/cmd"

func main() {
	cmd.Execute()
}
