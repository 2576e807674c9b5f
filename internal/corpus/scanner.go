package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// FileMeta holds the frontmatter of a corpus markdown file.
type FileMeta struct {
	Corpus models.Corpus `yaml:"corpus"`
	Title  string        `yaml:"title"`
	Tags   []string      `yaml:"tags"`
}

// File is one scanned corpus document.
type File struct {
	FileMeta
	Path    string
	Content string
}

// ScanDirs walks each directory for *.md files. The corpus comes from the
// frontmatter, or from the name of a parent directory called requirements
// or compliance. Files that match neither are skipped.
func ScanDirs(dirs []string) ([]File, error) {
	var files []File

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			meta, body, err := parseFrontmatter(data)
			if err != nil {
				return nil
			}
			if !meta.Corpus.IsValid() {
				meta.Corpus = corpusFromPath(path)
			}
			if !meta.Corpus.IsValid() || body == "" {
				return nil
			}
			if meta.Title == "" {
				meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			files = append(files, File{FileMeta: meta, Path: abs, Content: body})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan corpus dir %s: %w", dir, err)
		}
	}

	return files, nil
}

func corpusFromPath(path string) models.Corpus {
	for dir := filepath.Dir(path); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		c := models.Corpus(strings.ToLower(filepath.Base(dir)))
		if c.IsValid() {
			return c
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return ""
}

// parseFrontmatter splits optional YAML frontmatter delimited by --- from
// the markdown body.
func parseFrontmatter(data []byte) (FileMeta, string, error) {
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "---") {
		return FileMeta{}, content, nil
	}

	rest := content[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return FileMeta{}, "", fmt.Errorf("no closing frontmatter delimiter")
	}

	var meta FileMeta
	if err := yaml.Unmarshal([]byte(rest[:idx]), &meta); err != nil {
		return FileMeta{}, "", fmt.Errorf("parse yaml: %w", err)
	}
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Corpus = models.Corpus(strings.ToLower(strings.TrimSpace(string(meta.Corpus))))

	body := strings.TrimSpace(rest[idx+len("\n---"):])
	return meta, body, nil
}
