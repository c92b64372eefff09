// Package main provides the voicecmd CLI: a voice-command recognizer that
// turns microphone audio into one of sixteen text-formatting commands.
//
// Usage:
//
//	voicecmd [flags] <command> [args]
//
// Commands:
//
//	listen    - Recognize commands from the microphone or a WAV file
//	classify  - Classify WAV files offline
//	devices   - List audio input devices
//	weights   - Create and inspect model weight artifacts
//	settings  - Show or change persisted runtime settings
//	config    - Manage configuration contexts
//
// Configuration:
//
//	The CLI stores configuration in ~/.voicecmd/voicecmd/
//	Use 'voicecmd config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/voicecmd/cmd/voicecmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
