// Command fiddle plays fiddle tunes for practice and exports what it would
// play.
//
// Usage:
//
//	fiddle [flags] <command> [args]
//
// Commands:
//
//	play      - Play a tune with tempo, transpose, metronome and repeats
//	timeline  - Print the performance timeline of a tune
//	export    - Write the performance as a Standard MIDI File
//	render    - Render the performance to a WAV file
//	risk      - Assess tunes for highlight-sync risk
package main

import (
	"fmt"
	"os"

	"github.com/cbegin/fiddle-go/cmd/fiddle/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
