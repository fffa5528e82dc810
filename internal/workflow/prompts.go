package workflow

import (
	"fmt"
	"strings"

	"inkwell/internal/catalog"
	"inkwell/internal/services/llm"
)

const (
	previousExcerptWords = 300
	rewriteDraftChars    = 3000
	consistencyExcerpt   = 350
	consistencyChapters  = 12
	consistencyMaxTokens = 800
)

func genreOf(book *catalog.Book) string {
	if g := strings.TrimSpace(book.Genre); g != "" {
		return g
	}
	return "fiction"
}

func storyContext(book *catalog.Book) string {
	var b strings.Builder
	if p := strings.TrimSpace(book.Premise); p != "" {
		fmt.Fprintf(&b, "Premise: %s\n", p)
	}
	if o := strings.TrimSpace(book.Outline); o != "" {
		fmt.Fprintf(&b, "Outline:\n%s\n", o)
	}
	if b.Len() == 0 {
		return "No story bible yet."
	}
	return strings.TrimSpace(b.String())
}

func (m *Manager) writeRequest(book *catalog.Book, ch *catalog.Chapter, previous string) llm.Request {
	system := fmt.Sprintf("You are an expert fiction writer specializing in %s. "+
		"Write vivid, engaging prose with strong pacing and distinct character voices. "+
		"Follow the chapter brief exactly. Maintain consistency with the story bible. "+
		"Target approximately 1,000 words. Write the chapter directly with no preamble.", genreOf(book))

	title := strings.TrimSpace(ch.Title)
	if title == "" {
		title = "Untitled"
	}
	brief := strings.TrimSpace(ch.Outline)
	if brief == "" {
		brief = "No brief provided; continue the story naturally."
	}
	if previous == "" {
		previous = "(This is the first chapter.)"
	}
	prompt := fmt.Sprintf("## Story Bible\n%s\n\n## Previous Chapter Excerpt\n%s\n\n## Chapter %d Brief\n%s\n\n---\nWrite Chapter %d: %q now.",
		storyContext(book), previous, ch.Number, brief, ch.Number, title)

	return llm.Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   m.cfg.LLM.ChapterMaxTokens,
		Temperature: m.cfg.LLM.WriteTemperature,
	}
}

func (m *Manager) rewriteRequest(book *catalog.Book, ch *catalog.Chapter) llm.Request {
	system := fmt.Sprintf("You are an expert fiction editor and rewriter specializing in %s. "+
		"Rewrite the chapter draft to address all QA feedback while preserving core plot events "+
		"and character voices. Write the chapter directly with no preamble.", genreOf(book))

	draft := truncateRunes(ch.Content, rewriteDraftChars)
	if strings.TrimSpace(draft) == "" {
		draft = "(Empty)"
	}
	feedback := strings.TrimSpace(ch.QANotes)
	if feedback == "" {
		feedback = "No specific notes; improve clarity and pacing."
	}
	prompt := fmt.Sprintf("## Story Bible\n%s\n\n## Original Chapter Draft\n%s\n\n## QA Feedback to Address\n%s\n\n---\nWrite the complete rewritten chapter now.",
		storyContext(book), draft, feedback)

	return llm.Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   m.cfg.LLM.ChapterMaxTokens,
		Temperature: m.cfg.LLM.RewriteTemperature,
	}
}

func consistencyRequest(book *catalog.Book, chapters []*catalog.Chapter) llm.Request {
	summaries := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		title := strings.TrimSpace(ch.Title)
		if title == "" {
			title = "Untitled"
		}
		summaries = append(summaries, fmt.Sprintf("Ch %d (%s):\n%s", ch.Number, title, truncateRunes(ch.Content, consistencyExcerpt)))
	}
	prompt := fmt.Sprintf("## Story Bible\n%s\n\n## Chapter Excerpts\n%s\n\n"+
		"List all consistency issues found.\n"+
		`Return JSON: {"issues": [{"chapter": 1, "type": "character|plot|timeline|world", "description": "..."}]}`+"\n"+
		`If no issues: {"issues": []}`,
		storyContext(book), strings.Join(summaries, "\n\n"))
	return llm.Request{
		System: "You are a professional continuity editor. " +
			"Find plot holes, character inconsistencies, and timeline errors. Respond with valid JSON only.",
		Prompt:      prompt,
		MaxTokens:   consistencyMaxTokens,
		Temperature: 0.2,
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func lastWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
