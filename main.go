package main

import "github.com/hanifabd/rollcall/cmd"

func main() {
	cmd.Execute()
}
