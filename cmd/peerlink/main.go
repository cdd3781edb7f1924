package main

import "github.com/rudransh-shrivastava/peerlink/internal/client/cmd"

func main() {
	cmd.Execute()
}
