package main

import "github.com/bz888/labchain-ml/cmd"

func main() {
	cmd.Execute()
}
