package main

import "github.com/iptton-ai/githubcopilotprovider4claudecode/cmd"

func main() {
	cmd.Execute()
}
