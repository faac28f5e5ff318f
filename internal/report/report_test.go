package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/output"
)

func testReport(t *testing.T, dir string) *Report {
	t.Helper()
	outPath := filepath.Join(dir, "store", "pkg1")
	require.NoError(t, os.MkdirAll(outPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outPath, "foo"), []byte("x"), 0o644))

	attrs := []*models.Attr{
		{Name: "pkg1", Exists: true, OutPaths: map[string]string{"out": outPath}},
		{Name: "fail", Exists: true, BuildFailed: true},
		{Name: "cracked", Exists: true, Broken: true},
		{Name: "ghost", Exists: false, Broken: true},
		{Name: "blob", Exists: true, Blacklisted: true},
	}
	return &Report{
		PR:       1234,
		Commit:   "cafebabe",
		Checkout: "merge",
		Result: models.NewReviewResult(map[models.System][]*models.Attr{
			"x86_64-linux": attrs,
		}),
	}
}

func TestJSON_Schema(t *testing.T) {
	dir := t.TempDir()
	rep := testReport(t, dir)

	data, err := rep.JSON()
	require.NoError(t, err)

	var decoded struct {
		PR       *int     `json:"pr"`
		Systems  []string `json:"systems"`
		Checkout string   `json:"checkout"`
		Result   map[string]map[string][]string
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.NotNil(t, decoded.PR)
	assert.Equal(t, 1234, *decoded.PR)
	assert.Equal(t, []string{"x86_64-linux"}, decoded.Systems)
	assert.Equal(t, "merge", decoded.Checkout)

	result := decoded.Result["x86_64-linux"]
	assert.Equal(t, []string{"pkg1"}, result["built"])
	assert.Equal(t, []string{"fail"}, result["failed"])
	assert.Equal(t, []string{"cracked"}, result["broken"])
	assert.Equal(t, []string{"ghost"}, result["non-existent"])
	assert.Equal(t, []string{"blob"}, result["blacklisted"])
	assert.Empty(t, result["tests"])
}

func TestJSON_Deterministic(t *testing.T) {
	dir := t.TempDir()
	rep := testReport(t, dir)

	first, err := rep.JSON()
	require.NoError(t, err)
	second, err := rep.JSON()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWrite_Artifacts(t *testing.T) {
	dir := t.TempDir()
	rep := testReport(t, dir)

	require.NoError(t, rep.Write(dir))

	for _, name := range []string{"report.md", "report.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// Every built attr has a valid results symlink.
	link := filepath.Join(dir, "results", "pkg1")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(target, "foo"))
	assert.NoError(t, err)
}

func TestMarkdown_Sections(t *testing.T) {
	dir := t.TempDir()
	rep := testReport(t, dir)

	md := rep.Markdown(dir)
	assert.Contains(t, md, "## `nixpkgs-review` result")
	assert.Contains(t, md, "Command: `nixpkgs-review pr 1234`")
	assert.Contains(t, md, "### `x86_64-linux`")
	assert.Contains(t, md, "1 package marked as broken and skipped")
	assert.Contains(t, md, "1 package failed to build")
	assert.Contains(t, md, "1 package built")
	assert.Contains(t, md, "<li>pkg1</li>")
	assert.Contains(t, md, "blacklisted")
}

func TestMarkdown_LogTails(t *testing.T) {
	dir := t.TempDir()
	rep := testReport(t, dir)
	rep.ShowLogs = true

	logsDir := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logsDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(logsDir, "fail-x86_64-linux.log"),
		[]byte("compiling...\nerror: segfault\n"), 0o644))

	md := rep.Markdown(dir)
	assert.Contains(t, md, "Error logs: `x86_64-linux`")
	assert.Contains(t, md, "error: segfault")
	assert.LessOrEqual(t, len(md), maxCommentLength)
}

func TestMarkdown_MultiSystemSections(t *testing.T) {
	rep := &Report{
		Checkout: "merge",
		Result: models.NewReviewResult(map[models.System][]*models.Attr{
			"x86_64-linux": {
				{Name: "pkg1", Exists: true, OutPaths: map[string]string{"out": "/nix/store/p"}},
			},
			"aarch64-linux": {
				{Name: "pkg1", Exists: true, BuildFailed: true},
			},
		}),
	}
	md := rep.Markdown(t.TempDir())
	assert.Contains(t, md, "### `x86_64-linux`")
	assert.Contains(t, md, "### `aarch64-linux`")
	// Report order: linux x86 before linux aarch64.
	assert.Less(t,
		bytes.Index([]byte(md), []byte("### `x86_64-linux`")),
		bytes.Index([]byte(md), []byte("### `aarch64-linux`")))
}

func TestPrintConsole(t *testing.T) {
	dir := t.TempDir()
	rep := testReport(t, dir)

	var out, errOut bytes.Buffer
	ui := &output.UI{Out: &out, ErrOut: &errOut}
	rep.PrintConsole(ui, dir)

	assert.Contains(t, out.String(), "x86_64-linux")
	assert.Contains(t, out.String(), "pkg1")
	assert.Contains(t, out.String(), "failed to build")
}

func TestLogTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")

	var content string
	for i := 0; i < 50; i++ {
		content += "line\n\n"
	}
	content += "\x1b[31mfinal error\x1b[0m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tail := LogTail(path, 30)
	lines := bytes.Count([]byte(tail), []byte("\n")) + 1
	assert.LessOrEqual(t, lines, 30)
	assert.Contains(t, tail, "final error")
	assert.NotContains(t, tail, "\x1b")

	assert.Empty(t, LogTail(filepath.Join(dir, "missing.log"), 30))
}

func TestSucceeded(t *testing.T) {
	ok := &Report{Result: models.NewReviewResult(map[models.System][]*models.Attr{
		"x86_64-linux": {{Name: "a", Exists: true}},
	})}
	assert.True(t, ok.Succeeded())

	bad := &Report{Result: models.NewReviewResult(map[models.System][]*models.Attr{
		"x86_64-linux": {{Name: "a", Exists: true, BuildFailed: true}},
	})}
	assert.False(t, bad.Succeeded())
}
