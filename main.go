package main

import "github.com/sorryformyhair/dmflow/cmd"

func main() {
	cmd.Execute()
}
