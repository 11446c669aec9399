package main

import "checkpoint-capture/cmd"

func main() {
	cmd.Run()
}
