package main

import (
	"github.com/Flowdeck-Labs/flowdeck-node/internal/cmd"
)

func main() {
	cmd.Execute()
}
