package main

import "github.com/devicelab-dev/ntr-runner/pkg/cli"

func main() {
	cli.Execute()
}
