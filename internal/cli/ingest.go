package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

type ingestOptions struct {
	corpus string
	title  string
	tags   []string
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	o := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Load requirement or compliance documents into the corpus",
		Long: `With --corpus, every path is a file stored as one document of that corpus.
Without it, the paths are directories scanned for markdown files whose corpus
comes from frontmatter or a requirements/compliance parent directory. With no
paths at all, CORPUS_DIRS is synced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			return opts.withApp(cmd.Context(), func(app *App) error {
				if o.corpus == "" {
					dirs := args
					if len(dirs) == 0 {
						dirs = app.Config.CorpusDirs
					}
					res, err := app.Corpus.SyncDirs(cmd.Context(), dirs)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "found %d, stored %d, replaced %d, errors %d\n", res.Found, res.Stored, res.Removed, res.Errors)
					return nil
				}

				if len(args) == 0 {
					return fmt.Errorf("--corpus needs at least one file")
				}
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					title := o.title
					if title == "" || len(args) > 1 {
						title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
					}
					resp, err := app.Corpus.Ingest(cmd.Context(), &models.IngestRequest{
						Corpus:  models.Corpus(o.corpus),
						Title:   title,
						Content: string(data),
						Source:  "cli:" + path,
						Tags:    o.tags,
					})
					if err != nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", resp.ID, resp.Status, path)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&o.corpus, "corpus", "", "requirements or compliance")
	cmd.Flags().StringVar(&o.title, "title", "", "document title (single file only; defaults to the file name)")
	cmd.Flags().StringSliceVar(&o.tags, "tag", nil, "tags for the documents")
	return cmd
}
