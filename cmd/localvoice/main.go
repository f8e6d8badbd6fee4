// Command localvoice runs the local voice assistant and its adapters.
//
// Usage:
//
//	localvoice [flags] <command> [args]
//
// Commands:
//
//	transcribe  - Transcribe a WAV file with the local whisper model
//	speak       - Synthesize text to a WAV file or the speakers
//	chat        - Stream a reply from the local LLM
//	check       - Smoke test the speech, language and voice adapters
//	serve       - Run the web dashboard, upload endpoint and WebRTC agent
//
// Configuration:
//
//	Defaults can be overridden with --config <file.yaml>, a .env file in
//	the working directory, or LOCALVOICE_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-localvoice/cmd/localvoice/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
