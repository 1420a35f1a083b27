package main

import "github.com/nextlevelbuilder/clawden/cmd"

func main() {
	cmd.Execute()
}
