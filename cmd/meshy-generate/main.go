package main

import "go-meshy-generate/cmd/meshy-generate/cmd"

func main() {
	cmd.Execute()
}
