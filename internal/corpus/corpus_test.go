package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMeta FileMeta
		wantBody string
		wantErr  bool
	}{
		{
			name:     "full frontmatter",
			input:    "---\ncorpus: Compliance\ntitle: PCI DSS 3.2\ntags: [pci, cards]\n---\n\nMask card numbers.\n",
			wantMeta: FileMeta{Corpus: models.CorpusCompliance, Title: "PCI DSS 3.2", Tags: []string{"pci", "cards"}},
			wantBody: "Mask card numbers.",
		},
		{
			name:     "no frontmatter",
			input:    "# Login\nUsers log in with email.",
			wantBody: "# Login\nUsers log in with email.",
		},
		{
			name:    "unclosed frontmatter",
			input:   "---\ncorpus: requirements\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body, err := parseFrontmatter([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMeta, meta)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestScanDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "requirements", "login.md"), "Users log in with email and password.")
	writeFile(t, filepath.Join(root, "misc", "gdpr.md"), "---\ncorpus: compliance\ntitle: GDPR\n---\nErasure on request.")
	writeFile(t, filepath.Join(root, "misc", "notes.md"), "No corpus here.")
	writeFile(t, filepath.Join(root, "requirements", "diagram.png"), "binary")

	files, err := ScanDirs([]string{root, filepath.Join(root, "does-not-exist")})
	require.NoError(t, err)
	require.Len(t, files, 2)

	byTitle := map[string]File{}
	for _, f := range files {
		byTitle[f.Title] = f
	}
	assert.Equal(t, models.CorpusRequirements, byTitle["login"].Corpus)
	assert.Equal(t, models.CorpusCompliance, byTitle["GDPR"].Corpus)
	assert.Equal(t, "Erasure on request.", byTitle["GDPR"].Content)
}

func TestSyncIsIdempotent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "requirements", "reset.md")
	writeFile(t, path, "Reset links expire after 30 minutes.")

	db, err := store.Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	defer db.Close()
	docs := store.NewDocumentStore(db)
	svc := NewService(docs, nil, nil, nil, []string{root}, nil)
	ctx := context.Background()

	res, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)

	res, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)

	n, err := docs.CountByCorpus(models.CorpusRequirements)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	writeFile(t, path, "Reset links expire after 15 minutes.")
	_, err = svc.Sync(ctx)
	require.NoError(t, err)
	list, err := docs.List(models.CorpusRequirements, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Content, "15 minutes")
}

func TestIngest(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	defer db.Close()
	svc := NewService(store.NewDocumentStore(db), nil, nil, nil, nil, nil)
	ctx := context.Background()

	resp, err := svc.Ingest(ctx, &models.IngestRequest{Corpus: models.CorpusCompliance, Title: "SOC2", Content: "Access is logged."})
	require.NoError(t, err)
	assert.Equal(t, "created", resp.Status)
	assert.False(t, resp.Indexed)

	dup, err := svc.Ingest(ctx, &models.IngestRequest{Corpus: models.CorpusCompliance, Content: "  Access is logged.  "})
	require.NoError(t, err)
	assert.Equal(t, "duplicate", dup.Status)
	assert.Equal(t, resp.ID, dup.ID)

	_, err = svc.Ingest(ctx, &models.IngestRequest{Corpus: "contracts", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidDocument)
	_, err = svc.Ingest(ctx, &models.IngestRequest{Corpus: models.CorpusCompliance, Content: " "})
	assert.ErrorIs(t, err, ErrInvalidDocument)
	_, err = svc.Ingest(ctx, &models.IngestRequest{Corpus: models.CorpusCompliance, Content: "<private>vendor contract</private>"})
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
