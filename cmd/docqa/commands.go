package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"doc-qa/internal/answer"
	"doc-qa/internal/pdftext"
	"doc-qa/internal/qa"
)

func newAnswerCmd(rt *runtime) *cobra.Command {
	var (
		question string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "answer <text-or-pdf>",
		Short: "Extract the answer span from free text or a PDF",
		Long: `Runs the hosted extractive QA model over the argument and prints the
decoded answer span. An argument naming an existing file is read as a PDF or
plain-text document; anything else is the text itself.`,
		Example: `  docqa answer "The cat sat on the mat." -q "Who sat?"
  docqa answer handbook.pdf -q "What is cardiac tamponade?"`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := rt.pdf.Load(args[0])
			if err != nil {
				return err
			}
			rt.log.Debug("resolved input", "origin", src.Origin, "path", src.Path, "pages", src.Pages)

			reader, err := rt.newReader(rt.cfg, rt.log)
			if err != nil {
				return err
			}
			res, err := reader.AnswerDocument(cmd.Context(), question, src.Text)
			if err != nil {
				rt.log.Error("answer failed", "kind", qa.Classify(err), "err", err)
				return err
			}
			return printAnswer(rt, res, asJSON)
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "question to ask about the input")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print answer, span and score as JSON")
	return cmd
}

func printAnswer(rt *runtime, res answer.Result, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(rt.stdout, res.Text)
		return err
	}
	return json.NewEncoder(rt.stdout).Encode(map[string]any{
		"answer": res.Text,
		"start":  res.Span.Start,
		"end":    res.Span.End,
		"score":  res.Score,
	})
}

func newExtractCmd(rt *runtime) *cobra.Command {
	var maxPages int
	cmd := &cobra.Command{
		Use:   "extract <pdf>",
		Short: "Print the plain text of a PDF",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex := rt.pdf
			if cmd.Flags().Changed("max-pages") {
				ex = pdftext.New(maxPages)
			}
			src, err := ex.Load(args[0])
			if err != nil {
				return err
			}
			if src.Origin == pdftext.OriginText {
				return fmt.Errorf("%w: %s is not a readable file", answer.ErrInput, args[0])
			}
			_, err = fmt.Fprint(rt.stdout, src.Text)
			return err
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "reject PDFs with more pages (0 = unlimited; default from MAX_PDF_PAGES)")
	return cmd
}

func newGenerateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Stream a chat model continuation of a prompt",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return fmt.Errorf("%w: empty prompt", answer.ErrInput)
			}
			gen, err := rt.newGenerator(rt.cfg, rt.log)
			if err != nil {
				return err
			}
			if _, err := gen.Generate(cmd.Context(), prompt, func(tok string) error {
				_, err := fmt.Fprint(rt.stdout, tok)
				return err
			}); err != nil {
				if qa.Classify(err) != qa.KindUnknown {
					return err
				}
				return fmt.Errorf("%w: %v", qa.ErrInference, err)
			}
			_, err = fmt.Fprintln(rt.stdout)
			return err
		},
	}
}

func newIngestCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <pdf-or-txt>",
		Short: "Chunk, embed and store a document for retrieval",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := rt.pdf.Load(args[0])
			if err != nil {
				return err
			}
			if src.Origin == pdftext.OriginText {
				return fmt.Errorf("%w: %s is not a readable file", answer.ErrInput, args[0])
			}
			ing, err := rt.newIngester(rt.cfg, rt.log)
			if err != nil {
				return err
			}
			doc, n, err := ing.Ingest(cmd.Context(), filepath.Base(src.Path), src.Text)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(rt.stdout, "%s %s (%d chunks)\n", doc.ID, doc.Status, n)
			return err
		},
	}
}

func newAskCmd(rt *runtime) *cobra.Command {
	var docs []string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the most similar stored chunks",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(docs))
			for _, d := range docs {
				id, err := uuid.Parse(d)
				if err != nil {
					return fmt.Errorf("%w: invalid document id %q", errUsage, d)
				}
				ids = append(ids, id)
			}
			pipeline, err := rt.newAsker(rt.cfg, rt.log)
			if err != nil {
				return err
			}
			reply, err := pipeline.Stream(cmd.Context(), strings.Join(args, " "), ids, func(tok string) error {
				_, err := fmt.Fprint(rt.stdout, tok)
				return err
			})
			if err != nil {
				return err
			}
			for _, s := range reply.Sources {
				rt.log.Debug("source", "chunk_id", s.Chunk.ID, "document_id", s.Chunk.DocumentID, "score", s.Score)
			}
			_, err = fmt.Fprintln(rt.stdout)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "restrict retrieval to these document ids")
	return cmd
}
