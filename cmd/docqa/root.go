package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"doc-qa/internal/answer"
	"doc-qa/internal/app"
	"doc-qa/internal/config"
	"doc-qa/internal/llm"
	"doc-qa/internal/logger"
	"doc-qa/internal/metrics"
	"doc-qa/internal/pdftext"
	"doc-qa/internal/rag"
	"doc-qa/internal/store"
)

type answerer interface {
	AnswerDocument(ctx context.Context, question, text string) (answer.Result, error)
}

type asker interface {
	Stream(ctx context.Context, question string, docIDs []uuid.UUID, onToken llm.TokenFunc) (rag.Reply, error)
}

type generator interface {
	Generate(ctx context.Context, prompt string, onToken llm.TokenFunc) (string, error)
}

type ingester interface {
	Ingest(ctx context.Context, filename, text string) (store.Document, int, error)
}

// runtime holds process I/O and lazily built components. Commands only build
// what they use, so "extract" works without any credentials.
type runtime struct {
	stdout io.Writer
	stderr io.Writer

	cfg config.Config
	log *slog.Logger
	pdf *pdftext.Extractor

	newReader    func(config.Config, *slog.Logger) (answerer, error)
	newAsker     func(config.Config, *slog.Logger) (asker, error)
	newGenerator func(config.Config, *slog.Logger) (generator, error)
	newIngester  func(config.Config, *slog.Logger) (ingester, error)
}

func (rt *runtime) init() {
	rt.cfg = config.Load()
	if rt.log == nil {
		rt.log = logger.NewWithWriter(rt.stderr, rt.cfg.LogLevel)
	}
	if rt.pdf == nil {
		rt.pdf = pdftext.New(rt.cfg.MaxPDFPages)
	}
	metrics.Init()
	if rt.newReader == nil {
		rt.newReader = func(cfg config.Config, log *slog.Logger) (answerer, error) {
			return app.BuildReader(cfg, log)
		}
	}
	if rt.newGenerator == nil {
		rt.newGenerator = func(cfg config.Config, log *slog.Logger) (generator, error) {
			return app.BuildLLM(cfg, log)
		}
	}
	if rt.newAsker == nil {
		rt.newAsker = func(cfg config.Config, log *slog.Logger) (asker, error) {
			deps := app.Deps{Config: cfg, Log: log}
			var err error
			if deps.Store, err = app.BuildStore(cfg, log); err != nil {
				return nil, err
			}
			if deps.Embedder, err = app.BuildEmbedder(cfg, log); err != nil {
				return nil, err
			}
			if deps.LLM, err = app.BuildLLM(cfg, log); err != nil {
				return nil, err
			}
			return app.BuildRAG(deps), nil
		}
	}
	if rt.newIngester == nil {
		rt.newIngester = func(cfg config.Config, log *slog.Logger) (ingester, error) {
			deps := app.Deps{Config: cfg, Log: log}
			var err error
			if deps.Store, err = app.BuildStore(cfg, log); err != nil {
				return nil, err
			}
			if deps.Embedder, err = app.BuildEmbedder(cfg, log); err != nil {
				return nil, err
			}
			deps.Cache = app.BuildCache(cfg, log)
			return app.BuildIngest(deps), nil
		}
	}
}

func newRootCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docqa",
		Short: "Extractive and retrieval-augmented question answering over text and PDFs",
		Long: `docqa answers questions about free text or PDF documents.

"answer" runs a hosted extractive QA model and prints the highest scoring span.
"ingest" and "ask" store document chunks with embeddings and answer from the
most similar chunks with a chat model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unknown command %q for %q", errUsage, args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present
			if err := app.LoadEnv(); err != nil {
				return err
			}
			rt.init()
			return nil
		},
	}
	cmd.SetOut(rt.stdout)
	cmd.SetErr(rt.stderr)
	// Inherited by every subcommand.
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %s: %v", errUsage, c.CommandPath(), err)
	})

	cmd.AddCommand(
		newAnswerCmd(rt),
		newExtractCmd(rt),
		newGenerateCmd(rt),
		newIngestCmd(rt),
		newAskCmd(rt),
	)
	return cmd
}

// exactArgs is cobra.ExactArgs with errors that map to the usage exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s expects %d argument(s), got %d", errUsage, cmd.Name(), n, len(args))
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return fmt.Errorf("%w: %s expects at least %d argument(s)", errUsage, cmd.Name(), n)
		}
		return nil
	}
}
