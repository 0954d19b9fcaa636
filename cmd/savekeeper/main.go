package main

import "github.com/whatislife/savekeeper/pkg/cli"

func main() {
	cli.Execute()
}
