package main

import "github.com/zankora/agw/cmd"

func main() {
	cmd.Execute()
}
