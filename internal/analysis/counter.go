package analysis

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var sourceExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {}, ".html": {}, ".css": {},
}

// CountSource walks root and returns the number of source files and their
// total line count. Unreadable files are counted with zero lines.
func CountSource(root string) (files, lines int) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := sourceExtensions[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
			return nil
		}
		files++
		lines += countLines(path)
		return nil
	})
	return files, lines
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	n := 0
	partial := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			partial = chunk[len(chunk)-1] != '\n'
			if !partial {
				n++
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			break
		}
	}
	if partial {
		n++
	}
	return n
}
