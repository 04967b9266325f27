package main

import "github.com/nfrund/peerchat/cmd/peerchat-cli/cmd"

func main() {
	cmd.Execute()
}
