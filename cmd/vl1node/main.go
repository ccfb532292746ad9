package main

import "github.com/quillnet/vl1/cmd"

func main() {
	cmd.Execute()
}
