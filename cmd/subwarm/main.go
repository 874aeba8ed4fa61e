package main

import (
	"os"

	"github.com/nuetzliches/subwarm/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
