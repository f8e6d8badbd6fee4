package commands

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/voice"
)

var chatSystem string

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Stream a reply from the local LLM",
	Long: `Send one prompt to the configured Ollama model and stream the reply.

If the model server is unreachable the assistant's apology is printed and
the failure is logged.

Example:
  localvoice chat "What can you help me with?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt (default: configured persona)")
}

func systemPrompt() string {
	if chatSystem != "" {
		return chatSystem
	}
	if globalConfig.LLM.SystemPrompt != "" {
		return globalConfig.LLM.SystemPrompt
	}
	return voice.DefaultSystemPrompt
}

func runChat(cmd *cobra.Command, prompt string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := log.Component("cmd.chat")
	llm, err := newLLM(globalConfig.LLM, logger)
	if err != nil {
		return err
	}
	defer llm.Close()

	chat := inference.NewChatContext(
		inference.NewSystemMessage(systemPrompt()),
		inference.NewUserMessage(prompt),
	)
	stream := llm.Chat(ctx, chat)
	defer stream.Close()

	out := cmd.OutOrStdout()
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		io.WriteString(out, fragment)
	}
	io.WriteString(out, "\n")

	if err := stream.Err(); err != nil {
		logger.Warn("language model unavailable", "error", err)
	}
	return nil
}
