package config

import (
	"os"
	"path/filepath"

	"github.com/src-d/enry/v2"
)

// languageSampleLimit bounds how many files are classified per inference.
const languageSampleLimit = 64

// languageSampleBytes bounds how much of a file is read for classification.
const languageSampleBytes = 16 * 1024

// InferLanguage classifies the source files under root and returns the
// dominant language name, or empty when nothing could be classified.
func InferLanguage(root string) string {
	votes := make(map[string]int)
	sampled := 0

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || sampled >= languageSampleLimit {
			return filepath.SkipAll
		}

		if d.IsDir() {
			name := d.Name()
			if name != "." && (name[0] == '.' || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}

			return nil
		}

		content := sampleFile(path)

		language := enry.GetLanguage(filepath.Base(path), content)
		if language == "" || enry.IsVendor(path) {
			return nil
		}

		votes[language]++
		sampled++

		return nil
	})

	best := ""
	bestVotes := 0

	for language, count := range votes {
		if count > bestVotes {
			best = language
			bestVotes = count
		}
	}

	return best
}

func sampleFile(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	buf := make([]byte, languageSampleBytes)

	n, _ := f.Read(buf)

	return buf[:n]
}
