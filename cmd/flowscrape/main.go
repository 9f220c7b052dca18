package main

import (
	"context"

	"github.com/fortuna/flowscrape/cmd/flowscrape/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
