package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTranscript(t *testing.T) {
	want := []segments.TranscriptEntry{
		{Role: "agent", Message: "Hi", TimeInCallSecs: 0},
		{Role: "user", Message: "Hello", TimeInCallSecs: 2.5},
	}

	cases := map[string]string{
		"list.json": `[{"role":"agent","message":"Hi","time_in_call_secs":0},
			{"role":"user","message":"Hello","time_in_call_secs":2.5}]`,
		"conversation.json": `{"conversation_id":"c1","transcript":[
			{"role":"agent","message":"Hi","time_in_call_secs":0},
			{"role":"user","message":"Hello","time_in_call_secs":2.5}]}`,
		"list.yaml": "- role: agent\n  message: Hi\n  time_in_call_secs: 0\n" +
			"- role: user\n  message: Hello\n  time_in_call_secs: 2.5\n",
		"conversation.yml": "conversation_id: c1\ntranscript:\n" +
			"  - role: agent\n    message: Hi\n    time_in_call_secs: 0\n" +
			"  - role: user\n    message: Hello\n    time_in_call_secs: 2.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := loadTranscript(writeFile(t, name, body))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadTranscriptRejectsBadInput(t *testing.T) {
	_, err := loadTranscript(writeFile(t, "t.txt", "[]"))
	assert.ErrorContains(t, err, "unsupported transcript format")

	_, err = loadTranscript(writeFile(t, "t.json", `{"conversation_id":"c1"}`))
	assert.ErrorIs(t, err, segments.ErrTranscriptUnavailable)

	_, err = loadTranscript(writeFile(t, "t.json", `{not json`))
	assert.ErrorIs(t, err, segments.ErrTranscriptUnavailable)

	_, err = loadTranscript(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	for name, body := range map[string]string{"empty.yaml": "", "blank.yml": "\n\n", "null.json": "null", "null.yaml": "~\n"} {
		_, err = loadTranscript(writeFile(t, name, body))
		assert.ErrorIs(t, err, segments.ErrTranscriptUnavailable, name)
	}
}

func TestLoadTranscriptAcceptsEmptyList(t *testing.T) {
	for _, name := range []string{"t.json", "t.yaml"} {
		got, err := loadTranscript(writeFile(t, name, "[]"))
		require.NoError(t, err, name)
		assert.NotNil(t, got, name)
		assert.Empty(t, got, name)
	}
}

func TestLoadTranscriptRejectsMissingTimestamp(t *testing.T) {
	entries, err := loadTranscript(writeFile(t, "t.yaml", "- role: agent\n  time_in_call_secs: 0\n- role: user\n  message: hi\n"))
	require.NoError(t, err)
	_, err = segments.DeriveUserSegments(entries, segments.DefaultOptions())
	assert.ErrorIs(t, err, segments.ErrTranscriptUnavailable)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["worker"])
	assert.True(t, names["extract"])

	extract, _, err := root.Find([]string{"extract"})
	require.NoError(t, err)
	for _, flag := range []string{"audio", "transcript", "out", "segments-out", "ledger", "strategy"} {
		assert.NotNil(t, extract.Flags().Lookup(flag), flag)
	}
}

func TestExtractRequiresFlags(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"extract", "--audio", "in.mp3"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	assert.ErrorContains(t, err, "required flag")
}
