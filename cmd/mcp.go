package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/catalog"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// Version is reported to MCP clients.
var Version = "dev"

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve search and lookup tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()
		srv := server.NewStdioServer(newMCPServer(c))
		return srv.Listen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// tools serves catalog reads to MCP clients.
type tools struct {
	c *catalog.Catalog
}

func newMCPServer(c *catalog.Catalog) *server.MCPServer {
	t := &tools{c: c}
	s := server.NewMCPServer("dlx", Version, server.WithToolCapabilities(false))

	typeArg := mcp.WithString("type", mcp.Enum("bib", "auth"), mcp.Description("Record type, default bib"))
	s.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Search records with a dlx query string, e.g. 245a:'Title' AND 650a:/^human/i. Returns records in line form."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Query string")),
		typeArg,
		mcp.WithNumber("limit", mcp.Description("Maximum records, default 10")),
	), t.search)
	s.AddTool(mcp.NewTool("count",
		mcp.WithDescription("Count the records matching a dlx query string."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Query string")),
		typeArg,
	), t.count)
	s.AddTool(mcp.NewTool("show",
		mcp.WithDescription("Show one record in line form."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Record id")),
		typeArg,
	), t.show)
	s.AddTool(mcp.NewTool("lookup",
		mcp.WithDescription("List authority headings containing text that a controlled subfield can link to."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Controlled tag, e.g. 650")),
		mcp.WithString("code", mcp.Required(), mcp.Description("Subfield code, e.g. a")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Substring of the heading")),
		typeArg,
	), t.lookup)
	return s
}

func (t *tools) search(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rt, err := recordType(req.GetString("type", "bib"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cur, err := t.c.Search(rt, q, store.FindOptions{
		Sort:  []store.SortKey{{Path: "_id"}},
		Limit: req.GetInt("limit", 10),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := cur.Collect()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("no records"), nil
	}
	parts := make([]string, len(recs))
	for i, rec := range recs {
		parts[i] = fmt.Sprintf("%s %d\n%s", rec.Type, rec.ID, rec.ToMRK())
	}
	return mcp.NewToolResultText(strings.Join(parts, "\n")), nil
}

func (t *tools) count(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rt, err := recordType(req.GetString("type", "bib"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := t.c.CountSearch(rt, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(n)), nil
}

func (t *tools) show(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rt, err := recordType(req.GetString("type", "bib"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := t.c.Get(rt, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s %d not found", rt, id)), nil
	}
	return mcp.NewToolResultText(rec.ToMRK()), nil
}

func (t *tools) lookup(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args [3]string
	for i, key := range []string{"tag", "code", "text"} {
		v, err := req.RequireString(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args[i] = v
	}
	rt, err := recordType(req.GetString("type", "bib"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !t.c.Table().IsControlled(rt, args[0], args[1]) {
		return mcp.NewToolResultError(fmt.Sprintf("%s %s$%s is not authority-controlled", rt, args[0], args[1])), nil
	}
	matches, err := t.c.Resolver().PartialLookup(rt, args[0], args[1], args[2], 0)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%d\t%s\n", m.Xref, m.Value)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no headings"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}
