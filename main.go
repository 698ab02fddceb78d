package main

import "netdash/cmd"

func main() {
	cmd.Execute()
}
