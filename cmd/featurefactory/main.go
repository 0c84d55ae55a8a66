// Package main is the FeatureFactory command.
package main

import (
	"context"
	"os"

	"github.com/HDI-Project/FeatureFactory/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
