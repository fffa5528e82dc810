package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"inkwell/internal/api"
)

func newChapterCommand(ctx *commandContext) *cobra.Command {
	chapterCmd := &cobra.Command{
		Use:     "chapter",
		Aliases: []string{"chapters"},
		Short:   "Inspect chapters and record editorial decisions",
	}

	chapterCmd.AddCommand(newChapterListCommand(ctx))
	chapterCmd.AddCommand(newChapterShowCommand(ctx))
	chapterCmd.AddCommand(newChapterActionCommand(ctx, "approve", "Approve a chapter awaiting QA", bookAPI.ApproveChapter))
	chapterCmd.AddCommand(newChapterActionCommand(ctx, "ready", "Mark a pending chapter ready to write", bookAPI.MarkReady))
	chapterCmd.AddCommand(newChapterActionCommand(ctx, "requeue", "Requeue a rejected or failed chapter for generation", bookAPI.RequeueChapter))
	chapterCmd.AddCommand(newChapterRejectCommand(ctx))
	chapterCmd.AddCommand(newChapterSetContentCommand(ctx))

	return chapterCmd
}

func newChapterListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list <book-id>",
		Short: "List chapters of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				chapters, err := svc.ListChapters(cmd.Context(), bookID, statuses)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, chapters)
				}
				out := cmd.OutOrStdout()
				if len(chapters) == 0 {
					fmt.Fprintln(out, "No chapters")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "#", "Title", "Status", "Words", "Attempts", "AI", "Plag"},
					buildChapterRows(chapters),
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by chapter status (repeatable)")
	return cmd
}

func buildChapterRows(chapters []api.Chapter) [][]string {
	rows := make([][]string, 0, len(chapters))
	for _, ch := range chapters {
		title := ch.Title
		if title == "" {
			title = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(ch.ID, 10),
			strconv.Itoa(ch.Number),
			title,
			statusLabel(ch.Status),
			formatCount(ch.WordCount),
			strconv.Itoa(ch.GenerationAttempts),
			formatScore(ch.AIDetectionScore),
			formatScore(ch.PlagiarismScore),
		})
	}
	return rows
}

func newChapterShowCommand(ctx *commandContext) *cobra.Command {
	var withContent bool
	cmd := &cobra.Command{
		Use:   "show <chapter-id>",
		Short: "Show a chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chapter")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				ch, err := svc.GetChapter(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !withContent {
					ch.Content = ""
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, ch)
				}
				printChapter(cmd.OutOrStdout(), ch)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withContent, "content", false, "Include the chapter text")
	return cmd
}

func printChapter(out io.Writer, ch api.Chapter) {
	pairs := [][2]string{
		{"Chapter", fmt.Sprintf("%d (book %d, #%d)", ch.ID, ch.BookID, ch.Number)},
		{"Status", statusLabel(ch.Status)},
		{"Words", formatCount(ch.WordCount)},
		{"Attempts", strconv.Itoa(ch.GenerationAttempts)},
		{"AI score", formatScore(ch.AIDetectionScore)},
		{"Plagiarism", formatScore(ch.PlagiarismScore)},
		{"Updated", formatWhen(ch.UpdatedAt)},
	}
	if ch.Title != "" {
		pairs = append(pairs, [2]string{"Title", ch.Title})
	}
	if ch.GenerationModel != "" {
		pairs = append(pairs, [2]string{"Model", fmt.Sprintf("%s (%s tokens, $%.4f)", ch.GenerationModel, formatCount(int(ch.TokensUsed)), ch.CostUSD)})
	}
	if ch.QANotes != "" {
		pairs = append(pairs, [2]string{"QA notes", ch.QANotes})
	}
	if ch.LastError != "" {
		pairs = append(pairs, [2]string{"Last error", ch.LastError})
	}
	fmt.Fprint(out, renderKeyValues(pairs))
	if ch.Content != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, strings.TrimRight(ch.Content, "\n"))
	}
}

type chapterAction func(svc bookAPI, ctx context.Context, id int64) (api.Chapter, error)

func newChapterActionCommand(ctx *commandContext, use, short string, action chapterAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <chapter-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chapter")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				ch, err := action(svc, cmd.Context(), id)
				if err != nil {
					return err
				}
				return reportChapter(ctx, cmd, ch)
			})
		},
	}
}

func newChapterRejectCommand(ctx *commandContext) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "reject <chapter-id>",
		Short: "Reject a chapter awaiting QA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chapter")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				ch, err := svc.RejectChapter(cmd.Context(), id, notes)
				if err != nil {
					return err
				}
				return reportChapter(ctx, cmd, ch)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Reviewer notes")
	return cmd
}

func newChapterSetContentCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set-content <chapter-id>",
		Short: "Replace a chapter's text from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chapter")
			if err != nil {
				return err
			}
			content, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				ch, err := svc.SetChapterContent(cmd.Context(), id, content)
				if err != nil {
					return err
				}
				return reportChapter(ctx, cmd, ch)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the chapter text, or - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readContent(cmd *cobra.Command, file string) (string, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read chapter content: %w", err)
	}
	return string(data), nil
}

func reportChapter(ctx *commandContext, cmd *cobra.Command, ch api.Chapter) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, ch)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Chapter %d (book %d, #%d) is now %s\n", ch.ID, ch.BookID, ch.Number, statusLabel(ch.Status))
	return nil
}
