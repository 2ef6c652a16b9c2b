package main

import "burstrank/cmd"

func main() {
	cmd.Execute()
}
