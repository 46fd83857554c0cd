package main

import "github.com/audiolibrelab/disconium/cmd"

func main() {
	cmd.Execute()
}
