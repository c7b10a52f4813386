package indexer

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"framegrab/internal/filesystem"
	"framegrab/internal/mediatypes"
)

var (
	// "Title (1995)" or "Title [1995] extra"
	bracketYear = regexp.MustCompile(`^(.+?)\s*[\(\[]((?:19|20)\d{2})[\)\]]`)
	// "Title.1995.1080p"
	bareYear = regexp.MustCompile(`^(.+?)[\s._-]+((?:19|20)\d{2})(?:[\s._-].*)?$`)
)

// parseTitle derives a display title and year from a video file name.
func parseTitle(name string) (title string, year int) {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	for _, re := range []*regexp.Regexp{bracketYear, bareYear} {
		if m := re.FindStringSubmatch(base); m != nil {
			if t := cleanTitle(m[1]); t != "" {
				year, _ = strconv.Atoi(m[2])
				return t, year
			}
		}
	}
	return cleanTitle(base), 0
}

func cleanTitle(s string) string {
	// Dots and underscores are word separators only when the name has no spaces.
	if !strings.Contains(s, " ") {
		s = strings.NewReplacer(".", " ", "_", " ").Replace(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

// findPoster looks next to a video for artwork, most specific first:
// <base>-poster.*, <base>.<image>, poster.*, folder.*.
func findPoster(videoPath string) string {
	dir := filepath.Dir(videoPath)
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	candidates := make([]string, 4)
	for _, e := range entries {
		if e.IsDir() || !mediatypes.IsImage(e.Name()) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		rank := -1
		switch {
		case strings.EqualFold(stem, base+"-poster"):
			rank = 0
		case strings.EqualFold(stem, base):
			rank = 1
		case strings.EqualFold(stem, "poster"):
			rank = 2
		case strings.EqualFold(stem, "folder"):
			rank = 3
		}
		if rank >= 0 && candidates[rank] == "" {
			candidates[rank] = filepath.Join(dir, e.Name())
		}
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if canon, err := filesystem.Canonicalize(c); err == nil {
			return canon
		}
	}
	return ""
}
