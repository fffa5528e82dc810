package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"inkwell/internal/api"
	"inkwell/internal/services"
)

func TestChapterListAndActions(t *testing.T) {
	env := setupCLITestEnv(t)
	book := createBook(t, env, "Tidewater", "3")
	bookID := strconv.FormatInt(book.ID, 10)
	fireEvents(t, env, bookID, "start_keyword_research", "approve_keywords", "start_writing")

	out, _, err := runCLI(t, []string{"chapter", "list", bookID}, env.configPath)
	require.NoError(t, err)
	requireContains(t, out, "Ready To Write")

	out, _, err = runCLI(t, []string{"--json", "chapter", "list", bookID}, env.configPath)
	require.NoError(t, err)
	var chapters []api.Chapter
	require.NoError(t, json.Unmarshal([]byte(out), &chapters))
	require.Len(t, chapters, 3)
	first := strconv.FormatInt(chapters[0].ID, 10)

	_, _, err = runCLI(t, []string{"chapter", "approve", first}, env.configPath)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	_, _, err = runCLI(t, []string{"chapter", "reject", first}, env.configPath)
	require.ErrorIs(t, err, services.ErrValidation)

	out, _, err = runCLI(t, []string{"chapter", "list", bookID, "--status", "approved"}, env.configPath)
	require.NoError(t, err)
	requireContains(t, out, "No chapters")

	out, _, err = runCLI(t, []string{"chapter", "show", first}, env.configPath)
	require.NoError(t, err)
	requireContains(t, out, "Ready To Write")
}

func TestChapterSetContentRequiresFile(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"chapter", "set-content", "1"}, env.configPath)
	require.Error(t, err)

	_, _, err = runCLI(t, []string{"chapter", "set-content", "1", "--file", filepath.Join(env.baseDir, "missing.txt")}, env.configPath)
	require.ErrorContains(t, err, "read chapter content")
}

func TestReadContentFromStdin(t *testing.T) {
	cmd := newRootCommand()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("The lamp burned all night.\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	cmd.SetIn(r)

	content, err := readContent(cmd, "-")
	require.NoError(t, err)
	require.Equal(t, "The lamp burned all night.\n", content)
}
