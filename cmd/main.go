package main

import (
	"github.com/corray333/backend-labs/materials/internal/app"
	"github.com/corray333/backend-labs/materials/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
