// Command ask streams one grounded answer to the terminal.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/markdave123-py/Groundwise/internal/core/llm"
	"github.com/markdave123-py/Groundwise/internal/core/postprocess"
	"github.com/markdave123-py/Groundwise/internal/core/streaming"
	"github.com/markdave123-py/Groundwise/internal/logging"
	"github.com/markdave123-py/Groundwise/internal/models"
	"github.com/markdave123-py/Groundwise/internal/services"
)

var (
	apiKey string
	model  string
	plain  bool
	debug  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and get a cited answer",
		Long: `Streams an answer grounded in web sources. Citations are shown as [N]
and refer to the numbered source list printed after the answer. Comparisons
are printed as a table. Press Ctrl-C to abort.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	rootCmd.Flags().StringVarP(&model, "model", "m", "", "Model name (or set GEN_MODEL)")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "Print markdown without terminal styling")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	level := "warn"
	if debug {
		level = "debug"
	}
	logging.Setup(level, false)

	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return errors.New("no API key: pass --api-key or set GEMINI_API_KEY")
	}
	if model == "" {
		model = os.Getenv("GEN_MODEL")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := llm.NewGeminiLLM(ctx, apiKey, model)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	defer gen.Close()

	question := strings.Join(args, " ")
	chunks, err := gen.GenerateStream(ctx, services.SystemPrompt, nil, question)
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	resp := streaming.NewResponse(uuid.NewString())
	progress := cmd.ErrOrStderr()
	view, err := streaming.Consume(ctx, resp, chunks, func(live string) {
		fmt.Fprintf(progress, "\rreceiving... %d chars", len(live))
	})
	fmt.Fprint(progress, "\r\033[K")
	if err != nil {
		if errors.Is(err, streaming.ErrAborted) && ctx.Err() != nil {
			fmt.Fprintln(progress, "aborted")
			return nil
		}
		return err
	}
	logrus.WithField("table_phase", resp.TablePhase()).Debug("answer complete")

	return printAnswer(cmd.OutOrStdout(), view, plain)
}

func printAnswer(w io.Writer, view *models.FinalView, plain bool) error {
	md := answerMarkdown(view)
	if !plain {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			if out, err := r.Render(md); err == nil {
				md = out
			}
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

// answerMarkdown lays out the prose with numbered references, the table and
// the source list.
func answerMarkdown(view *models.FinalView) string {
	var b strings.Builder
	b.WriteString(postprocess.NumberMarkers(view.Prose))
	b.WriteString("\n")
	if tbl := postprocess.MarkdownTable(view.Table); tbl != "" {
		b.WriteString("\n")
		b.WriteString(tbl)
	}
	if len(view.Sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		b.WriteString(postprocess.MarkdownSources(view.Sources))
	}
	return b.String()
}
