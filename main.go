package main

import (
	"os"

	"github.com/kaspanet/dagsync/app"
)

func main() {
	if err := app.StartApp(); err != nil {
		os.Exit(1)
	}
}
