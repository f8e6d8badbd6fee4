package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-localvoice/internal/config"
	"github.com/teslashibe/go-localvoice/internal/log"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
	verbose  bool

	// Global configuration
	globalConfig config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "localvoice",
	Short: "Local voice assistant",
	Long: `localvoice runs a voice assistant entirely on local models.

Speech is transcribed by whisper.cpp, replies come from an Ollama model and
are spoken by a Coqui or Piper voice. The serve command exposes the assistant
over HTTP and WebRTC.

Examples:
  # Transcribe a recording to transcription.txt
  localvoice transcribe output.wav

  # Speak a sentence through the speakers
  localvoice speak --play "Hello there"

  # Run the dashboard and browser agent on :5005
  localvoice serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		if verbose {
			level = "debug"
		}
		log.Init(level)
		globalConfig = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
