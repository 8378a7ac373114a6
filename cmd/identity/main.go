package main

import (
	"log"

	"github.com/aussiebroadwan/nativeid/internal/identity/app"
)

//go:generate swag init -d ../../ -g internal/identity/http/router.go -o ../../api/identity --parseDependency --parseInternal

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
