package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/dshills/codemorph/internal/lang"
)

// DefaultMaxFileBytes skips generated or minified sources
const DefaultMaxFileBytes = 1 << 20

// FileEntry represents a discovered source file
type FileEntry struct {
	Path     string // relative to the root, slash separated
	Language string
	Size     int64
}

// Discovery is the outcome of walking a repository
type Discovery struct {
	Files       []FileEntry // supported files, sorted by path
	Unsupported []string    // files without a grammar
	TooLarge    []string    // files over the size limit
}

// DiscoverOptions filters what Discover returns
type DiscoverOptions struct {
	Exclude      []string // doublestar patterns over repo-relative paths
	MaxFileBytes int64
	Languages    []string // empty means every registered language
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	"vendor":        {},
	"venv":          {},
	"env":           {},
	"build":         {},
	"dist":          {},
	"target":        {},
	"egg-info":      {},
	"_build":        {},
	"bin":           {},
	"obj":           {},
	"coverage":      {},
	"site-packages": {},
}

// Discover finds indexable source files under root. Hidden entries, vendored
// and build directories, .gitignore matches and excluded paths are skipped.
func Discover(root string, opts DiscoverOptions) (*Discovery, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot read repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", root)
	}

	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	langSet := make(map[string]struct{}, len(opts.Languages))
	for _, l := range opts.Languages {
		langSet[l] = struct{}{}
	}
	gi := loadGitignore(root)

	result := &Discovery{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // skip unreadable entries
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if skipDir(name) || gi.matches(rel+"/") || excluded(opts.Exclude, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if gi.matches(rel) || excluded(opts.Exclude, rel) {
			return nil
		}

		language := lang.ForPath(name)
		if language != "" && len(langSet) > 0 {
			if _, ok := langSet[language]; !ok {
				language = ""
			}
		}
		if language == "" {
			result.Unsupported = append(result.Unsupported, rel)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxBytes {
			result.TooLarge = append(result.TooLarge, rel)
			return nil
		}

		result.Files = append(result.Files, FileEntry{Path: rel, Language: language, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	sort.Strings(result.Unsupported)
	sort.Strings(result.TooLarge)
	return result, nil
}

func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
		return true
	}
	_, skip := skipDirs[name]
	return skip
}

// excluded reports whether rel or one of its parent directories matches a pattern
func excluded(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
	}
	return false
}

type gitignore struct {
	gi *ignore.GitIgnore
}

func loadGitignore(root string) gitignore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return gitignore{}
	}
	return gitignore{gi: gi}
}

func (g gitignore) matches(rel string) bool {
	return g.gi != nil && g.gi.MatchesPath(rel)
}
