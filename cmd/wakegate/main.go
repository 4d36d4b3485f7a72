package main

import (
	"log"

	"github.com/MrSnakeDoc/wakegate/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ wakegate failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ wakegate stopped with error: %v", err)
	}
}
