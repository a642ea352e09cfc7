package main

import "github.com/edge-ai-suites/fusion-pipeline/cmd/cmd"

func main() {
	cmd.Execute()
}
