package main

import "github.com/interchat-hq/interchat/cmd"

func main() {
	cmd.Execute()
}
