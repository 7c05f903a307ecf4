package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/catalog"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/pgzip"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	transferType   string
	transferFormat string
	exportQuery    string
)

func init() {
	for _, c := range []*cobra.Command{importCmd, exportCmd} {
		c.Flags().StringVarP(&transferType, "type", "t", "bib", "Record type: bib or auth")
		c.Flags().StringVarP(&transferFormat, "format", "f", "", "mrk, jsonl, xml or yaml (default from the file extension)")
	}
	exportCmd.Flags().StringVarP(&exportQuery, "query", "q", "", "Export only records matching this query string")
	rootCmd.AddCommand(importCmd, exportCmd)
}

// fileFormat names the format of path, ignoring a trailing .gz.
func fileFormat(path string) string {
	if transferFormat != "" {
		return transferFormat
	}
	ext := strings.TrimPrefix(filepath.Ext(strings.TrimSuffix(path, ".gz")), ".")
	if ext == "json" {
		return "jsonl"
	}
	return ext
}

type chainCloser struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (c *chainCloser) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &chainCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
}

func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "-" {
		return &chainCloser{Writer: cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz := pgzip.NewWriter(f)
	return &chainCloser{Writer: gz, closers: []io.Closer{gz, f}}, nil
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Commit records from a line form (.mrk) or JSON lines (.jsonl, .jsonl.gz) file",
	Long: `Commit records from a file. Line form values of controlled subfields are
resolved to authority links; JSON lines records keep their ids and links.
A record that fails is logged and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := recordType(transferType)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		in, err := openInput(cmd, args[0])
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		imp := &importer{c: c, rt: rt, log: newLogger(cmd.ErrOrStderr())}
		switch format := fileFormat(args[0]); format {
		case "mrk":
			err = imp.mrk(in)
		case "jsonl":
			err = imp.jsonl(in)
		default:
			err = fmt.Errorf("cannot import format %q", format)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d, failed %d\n", imp.ok, imp.failed)
		if imp.failed > 0 {
			return fmt.Errorf("%d records failed to import", imp.failed)
		}
		return nil
	},
}

type importer struct {
	c          *catalog.Catalog
	rt         api.RecordType
	log        zerolog.Logger
	ok, failed int
}

func (imp *importer) commit(n int, rec *marc.Record, err error) {
	if err == nil {
		_, err = imp.c.Commit(rec, userName)
	}
	if err != nil {
		imp.log.Error().Err(err).Int("record", n).Msg("import failed")
		imp.failed++
		return
	}
	imp.ok++
}

func (imp *importer) mrk(r io.Reader) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	for i, chunk := range marc.SplitMRK(string(src)) {
		rec, err := marc.FromMRK(imp.rt, chunk, imp.c.RecordOptions()...)
		if err == nil {
			err = rec.Link()
		}
		imp.commit(i+1, rec, err)
	}
	return nil
}

func (imp *importer) jsonl(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		n++
		rec, err := marc.FromJSON(imp.rt, line, imp.c.RecordOptions()...)
		imp.commit(n, rec, err)
	}
	return sc.Err()
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write records to a file, or - for stdout",
	Long: `Write records as line form (.mrk), MARCXML (.xml), JSON lines (.jsonl) or
YAML (.yaml). A .gz suffix compresses the output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := recordType(transferType)
		if err != nil {
			return err
		}
		format := fileFormat(args[0])
		switch format {
		case "mrk", "jsonl", "xml", "yaml", "yml":
		default:
			return fmt.Errorf("cannot export format %q", format)
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		var f filter.Filter = filter.All{}
		if exportQuery != "" {
			if f, err = c.Compiler().CompileString(exportQuery, rt); err != nil {
				return err
			}
		}
		cur, err := c.Find(rt, f, store.FindOptions{Sort: []store.SortKey{{Path: "_id"}}})
		if err != nil {
			return err
		}

		out, err := openOutput(cmd, args[0])
		if err != nil {
			_ = cur.Close()
			return err
		}
		n, werr := export(out, cur, format)
		if err := out.Close(); werr == nil {
			werr = err
		}
		if werr != nil {
			return werr
		}
		if args[0] != "-" {
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d\n", n)
		}
		return nil
	},
}

func export(w io.Writer, cur *catalog.Cursor, format string) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	var docs []any
	if format == "xml" {
		fmt.Fprintf(bw, "<collection xmlns=%q>\n", marc.XMLNamespace)
	}
	for rec, err := range cur.All() {
		if err != nil {
			return n, err
		}
		n++
		switch format {
		case "yaml", "yml":
			docs = append(docs, rec.ToDocument())
			continue
		case "mrk":
			if n > 1 {
				bw.WriteString("\n")
			}
		}
		s, err := formatRecord(rec, format)
		if err != nil {
			return n, err
		}
		bw.WriteString(s)
		if !strings.HasSuffix(s, "\n") {
			bw.WriteString("\n")
		}
	}
	switch format {
	case "xml":
		bw.WriteString("</collection>\n")
	case "yaml", "yml":
		b, err := yaml.Marshal(docs)
		if err != nil {
			return n, fmt.Errorf("encode yaml: %w", err)
		}
		bw.Write(b)
	}
	return n, bw.Flush()
}
