package main

import "github.com/himanalot/swimmer-elo/cmd"

func main() {
	cmd.Execute()
}
