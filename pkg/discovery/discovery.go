// Package discovery turns a source directory and file patterns into minifications.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/wehubfusion/terser/pkg/minification"
)

// DefaultExcludes are always applied to pattern matched files.
var DefaultExcludes = []string{
	"**/*~",
	"**/#*#",
	"**/.#*",
	"**/%*%",
	"**/._*",
	"**/CVS/**",
	"**/.cvsignore",
	"**/RCS/**",
	"**/SCCS/**",
	"**/vssver.scc",
	"**/.svn/**",
	"**/.DS_Store",
	"**/.git/**",
	"**/.gitattributes",
	"**/.gitignore",
	"**/.gitmodules",
	"**/.hg/**",
	"**/.hgignore",
	"**/.hgsub",
	"**/.hgsubstate",
	"**/.hgtags",
	"**/.bzr/**",
	"**/.bzrignore",
	"**/node_modules/.cache/**",
}

// Config selects source files and where their results go.
type Config struct {
	SourceDir string
	TargetDir string
	// Files are paths relative to SourceDir. Missing files are skipped.
	Files []string
	// Includes and Excludes are glob patterns relative to SourceDir; "**" matches
	// any number of directories. Excludes only apply to Includes.
	Includes []string
	Excludes []string
	// Suffix is inserted before the extension of each target file name.
	Suffix string
}

// Empty reports whether no files or patterns are configured.
func (c Config) Empty() bool {
	return len(c.Files) == 0 && len(c.Includes) == 0
}

// Discover returns one minification per selected source file, all sharing ctx.
// The result is sorted by source path and contains no duplicates.
func Discover(cfg Config, ctx *minification.Context) ([]minification.Minification, error) {
	sources := make(map[string]struct{})

	for _, f := range cfg.Files {
		p := filepath.Join(cfg.SourceDir, filepath.FromSlash(trimLeadingSeparator(f)))
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		sources[p] = struct{}{}
	}

	if len(cfg.Includes) > 0 {
		includes := normalize(cfg.Includes)
		excludes := normalize(append(append([]string{}, cfg.Excludes...), DefaultExcludes...))
		for _, p := range append(append([]string{}, includes...), excludes...) {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("invalid pattern %q", p)
			}
		}

		matched, err := scan(cfg.SourceDir, includes, excludes)
		if err != nil {
			return nil, err
		}
		for _, rel := range matched {
			sources[filepath.Join(cfg.SourceDir, filepath.FromSlash(rel))] = struct{}{}
		}
	}

	items := make([]minification.Minification, 0, len(sources))
	for src := range sources {
		target, err := TargetPath(cfg, src)
		if err != nil {
			return nil, err
		}
		items = append(items, minification.New(ctx, src, target))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Source < items[j].Source })

	return items, nil
}

// TargetPath maps a source file below cfg.SourceDir to its target below cfg.TargetDir.
func TargetPath(cfg Config, source string) (string, error) {
	rel, err := filepath.Rel(cfg.SourceDir, filepath.Dir(source))
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", source, err)
	}
	return filepath.Join(cfg.TargetDir, rel, InsertSuffix(filepath.Base(source), cfg.Suffix)), nil
}

// InsertSuffix inserts "."+suffix before the extension of name, or appends it when
// name has no extension.
func InsertSuffix(name, suffix string) string {
	if suffix == "" {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + suffix + ext
}

// scan walks root and returns the slash separated relative paths of regular files
// matching an include and no exclude.
func scan(root string, includes, excludes []string) ([]string, error) {
	var matched []string

	err := fs.WalkDir(os.DirFS(root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || p == "." {
			return nil
		}

		ok, err := matchAny(includes, p)
		if err != nil || !ok {
			return err
		}
		excluded, err := matchAny(excludes, p)
		if err != nil || excluded {
			return err
		}

		matched = append(matched, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	return matched, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// normalize converts patterns to slash separated, relative form. A trailing
// separator matches everything below the directory.
func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ReplaceAll(p, "\\", "/")
		p = trimLeadingSeparator(p)
		if strings.HasSuffix(p, "/") {
			p += "**"
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimLeadingSeparator(p string) string {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, string(filepath.Separator)) {
		return p[1:]
	}
	return p
}
