package main

import "github.com/Togather-Foundation/eventsite/cmd/server/cmd"

func main() {
	cmd.Execute()
}
