package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"inkwell/internal/api"
)

func newBookCommand(ctx *commandContext) *cobra.Command {
	bookCmd := &cobra.Command{
		Use:   "book",
		Short: "Create books and drive them through the production lifecycle",
	}

	bookCmd.AddCommand(newBookCreateCommand(ctx))
	bookCmd.AddCommand(newBookListCommand(ctx))
	bookCmd.AddCommand(newBookShowCommand(ctx))
	bookCmd.AddCommand(newBookEventCommand(ctx))
	bookCmd.AddCommand(newBookProgressCommand(ctx))
	bookCmd.AddCommand(newBookResyncCommand(ctx))
	bookCmd.AddCommand(newBookScoresCommand(ctx))
	bookCmd.AddCommand(newBookChecklistCommand(ctx))
	bookCmd.AddCommand(newBookGateCommand(ctx))
	bookCmd.AddCommand(newBookPreflightCommand(ctx))
	bookCmd.AddCommand(newBookConsistencyCommand(ctx))

	return bookCmd
}

func newBookCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateBookRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a book in concept_pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				book, err := svc.CreateBook(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, book)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created book %d %q (%s)\n", book.ID, book.Title, statusLabel(book.Status))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Book title")
	cmd.Flags().StringVar(&req.Genre, "genre", "", "Genre")
	cmd.Flags().StringVar(&req.Premise, "premise", "", "One-paragraph premise")
	cmd.Flags().StringVar(&req.Outline, "outline", "", "Story outline")
	cmd.Flags().IntVar(&req.TargetChapterCount, "chapters", 0, "Target chapter count")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("chapters")
	return cmd
}

func newBookListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				books, err := svc.ListBooks(cmd.Context(), statuses, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, books)
				}
				out := cmd.OutOrStdout()
				if len(books) == 0 {
					fmt.Fprintln(out, "No books")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Title", "Status", "Progress", "Chapters", "Words", "Updated"},
					buildBookRows(books),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by lifecycle status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of books")
	return cmd
}

func buildBookRows(books []api.Book) [][]string {
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10),
			b.Title,
			statusLabel(b.Status),
			strconv.Itoa(b.Percentage) + "%",
			strconv.Itoa(b.TargetChapterCount),
			formatCount(b.WordCount),
			formatWhen(b.UpdatedAt),
		})
	}
	return rows
}

func newBookShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				book, err := svc.GetBook(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, book)
				}
				printBook(cmd.OutOrStdout(), book)
				return nil
			})
		},
	}
}

func printBook(out io.Writer, b api.Book) {
	pairs := [][2]string{
		{"Book", fmt.Sprintf("%d %s", b.ID, b.Title)},
		{"Status", statusLabel(b.Status)},
		{"Progress", progressBar(b.Percentage, 20)},
		{"Chapters", strconv.Itoa(b.TargetChapterCount)},
		{"Words", formatCount(b.WordCount)},
		{"AI score", formatScore(b.AIDetectionScore)},
		{"Plagiarism", formatScore(b.PlagiarismScore)},
		{"Preflight", yesNo(b.PreflightPassed)},
		{"Version", strconv.FormatInt(b.Version, 10)},
	}
	if b.Genre != "" {
		pairs = append(pairs, [2]string{"Genre", b.Genre})
	}
	if b.PublishedAt != "" {
		pairs = append(pairs, [2]string{"Published", formatWhen(b.PublishedAt)})
	}
	if len(b.AvailableEvents) > 0 {
		pairs = append(pairs, [2]string{"Next events", strings.Join(b.AvailableEvents, ", ")})
	}
	fmt.Fprint(out, renderKeyValues(pairs))

	if len(b.Checklist) > 0 {
		fmt.Fprintln(out, "Checklist:")
		for _, key := range slices.Sorted(maps.Keys(b.Checklist)) {
			mark := " "
			if b.Checklist[key] {
				mark = "x"
			}
			fmt.Fprintf(out, "  [%s] %s\n", mark, key)
		}
	}
}

func newBookEventCommand(ctx *commandContext) *cobra.Command {
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "event <book-id> <event>",
		Short: "Fire a lifecycle event (e.g. start_writing, approve_for_export)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			event := strings.TrimSpace(args[1])
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				book, err := svc.FireBookEvent(cmd.Context(), id, event, expectedVersion)
				if err != nil {
					return describeRejection(err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, book)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d is now %s (%d%%)\n", book.ID, statusLabel(book.Status), book.Percentage)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "Reject the event if the book version differs")
	return cmd
}

// describeRejection expands a quality gate rejection into one line per
// failed check.
func describeRejection(err error) error {
	failures := gateFailures(err)
	if len(failures) == 0 {
		return err
	}
	return fmt.Errorf("%w\n  - %s", err, strings.Join(failures, "\n  - "))
}

func gateFailures(err error) []string {
	body := api.ErrorFrom(err)
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		body = *apiErr
	}
	if body.Code != api.CodeQualityGateFailed || body.Details == nil {
		return nil
	}
	var out []string
	switch failures := body.Details["failures"].(type) {
	case api.GateFailures:
		for _, f := range failures {
			out = append(out, f.Message)
		}
	case []any:
		for _, raw := range failures {
			if m, ok := raw.(map[string]any); ok {
				if msg, ok := m["message"].(string); ok {
					out = append(out, msg)
				}
			}
		}
	}
	return out
}

func newBookProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <book-id>",
		Short: "Show book progress and chapter counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				report, err := svc.Progress(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				printProgress(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func printProgress(out io.Writer, p api.Progress) {
	words := formatCount(p.StoredWordCount)
	if p.WordCountStale {
		words += fmt.Sprintf(" (live %s, run `inkwell book resync %d`)", formatCount(p.LiveWordCount), p.BookID)
	}
	fmt.Fprint(out, renderKeyValues([][2]string{
		{"Book", fmt.Sprintf("%d %s", p.BookID, p.Title)},
		{"Status", statusLabel(p.Status)},
		{"Progress", progressBar(p.Percentage, 20)},
		{"Approved", fmt.Sprintf("%d / %d chapters (%.1f%%)", p.ApprovedChapters, p.TargetChapters, p.ChapterCompletion)},
		{"Words", words},
		{"Failures", strconv.Itoa(p.GenerationFailures)},
	}))
	if len(p.ChaptersByStatus) == 0 {
		return
	}
	rows := make([][]string, 0, len(p.ChaptersByStatus))
	for _, status := range slices.Sorted(maps.Keys(p.ChaptersByStatus)) {
		rows = append(rows, []string{statusLabel(status), strconv.Itoa(p.ChaptersByStatus[status])})
	}
	fmt.Fprint(out, renderTable([]string{"Chapter Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func newBookResyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <book-id>",
		Short: "Recompute the stored word count from chapter content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				words, err := svc.ResyncWordCount(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"wordCount": words})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d word count: %s\n", id, formatCount(words))
				return nil
			})
		},
	}
}

func newBookScoresCommand(ctx *commandContext) *cobra.Command {
	var aiScore, plagScore float64
	cmd := &cobra.Command{
		Use:   "scores <book-id>",
		Short: "Record AI-detection and plagiarism scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			var req api.RecordScoresRequest
			if cmd.Flags().Changed("ai") {
				req.AIDetectionScore = &aiScore
			}
			if cmd.Flags().Changed("plagiarism") {
				req.PlagiarismScore = &plagScore
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				book, err := svc.RecordScores(cmd.Context(), id, req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, book)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d scores: ai %s, plagiarism %s\n",
					book.ID, formatScore(book.AIDetectionScore), formatScore(book.PlagiarismScore))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&aiScore, "ai", 0, "AI-detection score (0-100)")
	cmd.Flags().Float64Var(&plagScore, "plagiarism", 0, "Plagiarism score (0-100)")
	return cmd
}

func newBookChecklistCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "checklist <book-id> <item>[=true|false]...",
		Short: "Mark pre-export checklist items complete or incomplete",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			items, err := parseChecklistArgs(args[1:])
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				book, err := svc.UpdateChecklist(cmd.Context(), id, items)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, book)
				}
				printBook(cmd.OutOrStdout(), book)
				return nil
			})
		},
	}
}

func parseChecklistArgs(args []string) (map[string]bool, error) {
	items := make(map[string]bool, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid checklist item %q", arg)
		}
		done := true
		if found {
			parsed, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("checklist item %q: %w", key, err)
			}
			done = parsed
		}
		items[key] = done
	}
	return items, nil
}

func newBookGateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "gate <book-id>",
		Short: "Evaluate the export quality gate without changing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				result, err := svc.EvaluateGate(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if result.Passed {
					fmt.Fprintln(out, renderStatusLine("Quality gate", statusOK, "passed", colorize))
					return nil
				}
				fmt.Fprintln(out, renderStatusLine("Quality gate", statusError, fmt.Sprintf("%d checks failing", len(result.Failures)), colorize))
				for _, f := range result.Failures {
					fmt.Fprintln(out, renderStatusLine(f.Code, statusWarn, f.Message, colorize))
				}
				return nil
			})
		},
	}
}

func newBookPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight <book-id>",
		Short: "Queue a scoring preflight for the whole manuscript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				if err := svc.SchedulePreflight(cmd.Context(), id); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]bool{"queued": true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preflight queued for book %d\n", id)
				return nil
			})
		},
	}
}

func newBookConsistencyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "consistency <book-id>",
		Short: "Show advisory consistency reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				reports, err := svc.ConsistencyReports(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, reports)
				}
				out := cmd.OutOrStdout()
				if len(reports) == 0 {
					fmt.Fprintln(out, "No consistency reports")
					return nil
				}
				rows := make([][]string, 0)
				for _, r := range reports {
					if len(r.Issues) == 0 {
						rows = append(rows, []string{strconv.FormatInt(r.ID, 10), strconv.Itoa(r.ChaptersChecked), "-", "-", "no issues"})
						continue
					}
					for _, issue := range r.Issues {
						rows = append(rows, []string{
							strconv.FormatInt(r.ID, 10),
							strconv.Itoa(r.ChaptersChecked),
							strconv.Itoa(issue.Chapter),
							issue.Type,
							issue.Description,
						})
					}
				}
				fmt.Fprint(out, renderTable(
					[]string{"Report", "Checked", "Chapter", "Type", "Description"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}
