// Command aetherctl controls Aether ambient audio devices from the
// terminal: discovery, live telemetry, engine parameters, presets, and
// an interactive console.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
