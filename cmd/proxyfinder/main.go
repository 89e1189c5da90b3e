package main

import (
	"github.com/charmbracelet/log"

	"proxyfinder/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal("proxyfinder terminated", "error", err)
	}
}
