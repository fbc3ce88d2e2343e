package main

import "github.com/nextlevelbuilder/veilgate/cmd"

func main() {
	cmd.Execute()
}
