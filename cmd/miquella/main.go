package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TymurD/miquella/internal/miquella/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, config.ErrMissing) {
			fmt.Fprintf(os.Stderr, "Error: %v\nSee miquella.example.yaml for the file layout and the environment variables it needs.\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
