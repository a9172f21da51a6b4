package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/src-d/enry/v2"
)

// File selection limits.
const (
	// MaxFileBytes is the largest file the indexer will touch.
	MaxFileBytes = 1 << 20
	// printableProbe is the prefix length examined for binary detection.
	printableProbe = 4096
	// minPrintableRatio admits files with no recognized language when their
	// prefix is mostly printable text.
	minPrintableRatio = 0.92
)

// skipDirs are directory names never descended into: VCS metadata, dependency
// caches, build outputs, and the service's own runtime state.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"out":          true,
	".next":        true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".idea":        true,
	".vscode":      true,
	"var":          true,
	"data":         true,
}

// WalkedFile is one candidate file found under a checkout root.
type WalkedFile struct {
	// Path is the checkout-relative path with forward slashes.
	Path string
	// AbsPath is the filesystem path.
	AbsPath string
	Size    int64
}

// walkCheckout lists candidate files under root, applying directory skips and
// the size limit. Content-based filters run later when the file is read.
func walkCheckout(root string) ([]WalkedFile, error) {
	var files []WalkedFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > MaxFileBytes {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, WalkedFile{
			Path:    filepath.ToSlash(rel),
			AbsPath: path,
			Size:    info.Size(),
		})
		return nil
	})
	return files, err
}

// classify reads the file and decides whether it is indexable, returning its
// content and detected language. Files with NUL bytes are rejected; files
// without a recognized language must be mostly printable.
func classify(f WalkedFile) (content []byte, language string, ok bool) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, "", false
	}
	if len(content) == 0 {
		return nil, "", false
	}

	probe := content
	if len(probe) > printableProbe {
		probe = probe[:printableProbe]
	}
	for _, b := range probe {
		if b == 0 {
			return nil, "", false
		}
	}

	language = enry.GetLanguage(filepath.Base(f.Path), content)
	if language != "" && language != enry.OtherLanguage {
		return content, language, true
	}
	if printableRatio(probe) >= minPrintableRatio {
		return content, "", true
	}
	return nil, "", false
}

// printableRatio is the fraction of runes in data that are printable text.
func printableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	total, printable := 0, 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		i += size
		total++
		if r == '\n' || r == '\r' || r == '\t' || (r >= 0x20 && r != utf8.RuneError) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

// normalizeLanguage lowers enry's language names for storage.
func normalizeLanguage(lang string) string {
	return strings.ToLower(lang)
}
