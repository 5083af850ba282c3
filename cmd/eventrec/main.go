package main

import (
	"os"

	"github.com/rusma07/event-recommender-system/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
