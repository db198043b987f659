package main

import "github.com/akram-events/apiserver/cmd"

func main() {
	cmd.Execute()
}
