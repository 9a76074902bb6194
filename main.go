package main

import "github.com/ragworks/ragline/cmd"

func main() {
	cmd.Execute()
}
