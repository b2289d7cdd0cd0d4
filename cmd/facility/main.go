package main

import "ehrsync/cmd/facility/cmd"

func main() {
	cmd.Execute()
}
