package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/catalog"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authsMRK = "=150  \\\\$aHeader\n\n=150  \\\\$aOther\n"
	bibsMRK  = "=245  10$aThis$ctitle\n=650  \\\\$aHeader\n\n=245  \\\\$aAnother\n=650  \\\\$aMissing\n"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	// Flag variables outlive a run; put the defaults back.
	searchType, transferType, lookupType = "bib", "bib", "bib"
	searchLimit, searchSkip, lookupLimit = 20, 0, 0
	searchCount, showFormat, transferFormat, exportQuery, reindexType = false, "", "", "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--db", db, "--no-color", "--user", "tester"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func seed(t *testing.T) (dir, db string) {
	t.Helper()
	dir = t.TempDir()
	db = filepath.Join(dir, "dlx.db")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auths.mrk"), []byte(authsMRK), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bibs.mrk"), []byte(bibsMRK), 0o644))

	out, err := run(t, db, "import", "--type", "auth", filepath.Join(dir, "auths.mrk"))
	require.NoError(t, err)
	assert.Equal(t, "imported 2, failed 0\n", out)

	out, err = run(t, db, "import", filepath.Join(dir, "bibs.mrk"))
	require.Error(t, err, "second bib links to a missing heading")
	assert.Equal(t, "imported 1, failed 1\n", out)
	return dir, db
}

func TestImportAndSearch(t *testing.T) {
	_, db := seed(t)

	out, err := run(t, db, "search", "650a:'Header'")
	require.NoError(t, err)
	assert.Contains(t, out, "bib 1\n")
	assert.Contains(t, out, "=650  \\\\$aHeader [1]\n")

	out, err = run(t, db, "search", "--count", "245a:this")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, db, "search", "245a:/[/")
	require.Error(t, err)

	out, err = run(t, db, "lookup", "650", "a", "head")
	require.NoError(t, err)
	assert.Equal(t, "1\tHeader\n", out)
}

func TestExportRoundTrip(t *testing.T) {
	dir, db := seed(t)
	auths := filepath.Join(dir, "auths.jsonl.gz")
	bibs := filepath.Join(dir, "bibs.jsonl.gz")

	out, err := run(t, db, "export", "--type", "auth", auths)
	require.NoError(t, err)
	assert.Equal(t, "exported 2\n", out)
	_, err = run(t, db, "export", bibs)
	require.NoError(t, err)

	db2 := filepath.Join(dir, "copy.db")
	_, err = run(t, db2, "import", "--type", "auth", auths)
	require.NoError(t, err)
	_, err = run(t, db2, "import", bibs)
	require.NoError(t, err)

	out, err = run(t, db2, "show", "--format", "mrk", "bib", "1")
	require.NoError(t, err)
	assert.Equal(t, "=245  10$aThis$ctitle\n=650  \\\\$aHeader\n", out)

	out, err = run(t, db, "export", "--format", "yaml", "--query", "245a:'This'", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "_id: 1")
	assert.Contains(t, out, "xref: 1")
}

func TestMergeDeleteHistory(t *testing.T) {
	_, db := seed(t)

	_, err := run(t, db, "delete", "auth", "1")
	require.ErrorContains(t, err, "in use")

	out, err := run(t, db, "merge", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "merged 2 into 1\n", out)

	out, err = run(t, db, "history", "auth", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted ")
	assert.Contains(t, out, "merged into 1 ")
	assert.Contains(t, out, "by tester")

	out, err = run(t, db, "restore", "auth", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "$aOther")

	out, err = run(t, db, "reindex")
	require.NoError(t, err)
	assert.Equal(t, "bib: 1 reindexed, 0 failed\nauth: 2 reindexed, 0 failed\n", out)
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCPTools(t *testing.T) {
	c := catalog.New(store.NewMemoryStore())
	a := c.NewRecord(api.Auth)
	require.NoError(t, a.Set("150", "a", "Header"))
	_, err := c.Commit(a, "tester")
	require.NoError(t, err)
	b := c.NewRecord(api.Bib)
	require.NoError(t, b.Set("245", "a", "Title"))
	require.NoError(t, b.Set("650", "a", "Header"))
	_, err = c.Commit(b, "tester")
	require.NoError(t, err)

	tl := &tools{c: c}
	ctx := context.Background()

	res, err := tl.search(ctx, callRequest(map[string]any{"query": "650a:'Header'"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "=650  \\\\$aHeader")

	res, err = tl.count(ctx, callRequest(map[string]any{"query": "245a:title"}))
	require.NoError(t, err)
	assert.Equal(t, "1", resultText(t, res))

	res, err = tl.show(ctx, callRequest(map[string]any{"id": float64(1), "type": "auth"}))
	require.NoError(t, err)
	assert.Equal(t, "=150  \\\\$aHeader\n", resultText(t, res))

	res, err = tl.lookup(ctx, callRequest(map[string]any{"tag": "650", "code": "a", "text": "head"}))
	require.NoError(t, err)
	assert.Equal(t, "1\tHeader\n", resultText(t, res))

	res, err = tl.search(ctx, callRequest(map[string]any{"query": "245a:/[/"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tl.lookup(ctx, callRequest(map[string]any{"tag": "245", "code": "a", "text": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	assert.NotNil(t, newMCPServer(c))
}
