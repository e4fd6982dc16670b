package main

import "github.com/vecpack/packline/cmd"

func main() {
	cmd.Execute()
}
