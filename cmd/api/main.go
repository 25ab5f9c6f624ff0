package main

import (
	"fmt"
	"os"

	"github.com/Big6ixxx/sendzz/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sendzz: %v\n", err)
		os.Exit(1)
	}
}
