package subtitles

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"framegrab/internal/mediatypes"
)

// ErrUnsupportedFormat is returned for files that are neither SRT nor WebVTT.
var ErrUnsupportedFormat = errors.New("unsupported subtitle format")

// Cue is one timed subtitle entry.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Track is a parsed subtitle file with cues ordered by start time.
type Track struct {
	Cues []Cue
}

var (
	timingLine = regexp.MustCompile(`^\s*(\S+)\s+-->\s+(\S+)`)
	markupTag  = regexp.MustCompile(`<[^>]*>|\{\\[^}]*\}`)
)

// Load reads and parses an .srt or .vtt file.
func Load(path string) (*Track, error) {
	if !mediatypes.IsSubtitle(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes SRT or WebVTT bytes. Input that is not valid UTF-8 is read
// as Windows-1252, so malformed bytes never fail the parse.
func Parse(data []byte) (*Track, error) {
	text := decode(data)

	var (
		cues    []Cue
		current *Cue
		lines   []string
	)

	flush := func() {
		if current != nil {
			current.Text = cleanText(lines)
			if current.Text != "" {
				cues = append(cues, *current)
			}
		}
		current = nil
		lines = lines[:0]
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if m := timingLine.FindStringSubmatch(line); m != nil {
			flush()
			start, err1 := parseTimestamp(m[1])
			end, err2 := parseTimestamp(m[2])
			if err1 != nil || err2 != nil {
				continue
			}
			current = &Cue{Start: start, End: end}
			continue
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current != nil {
			lines = append(lines, line)
		}
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
	return &Track{Cues: cues}, nil
}

// At returns the cue active at t, or nil.
func (tr *Track) At(t time.Duration) *Cue {
	if tr == nil {
		return nil
	}
	// First cue starting after t; the candidate is the one before it.
	i := sort.Search(len(tr.Cues), func(i int) bool { return tr.Cues[i].Start > t })
	for j := i - 1; j >= 0; j-- {
		c := tr.Cues[j]
		if t < c.End {
			return &c
		}
		// Overlapping cues are rare; stop once well past the window.
		if t-c.Start > time.Minute {
			break
		}
	}
	return nil
}

func decode(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

func cleanText(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(markupTag.ReplaceAllString(l, ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// parseTimestamp accepts "HH:MM:SS,mmm", "HH:MM:SS.mmm" and "MM:SS.mmm".
func parseTimestamp(s string) (time.Duration, error) {
	s = strings.Replace(s, ",", ".", 1)

	var frac time.Duration
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		ms := s[dot+1:]
		for len(ms) < 3 {
			ms += "0"
		}
		v, err := strconv.Atoi(ms[:3])
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", s)
		}
		frac = time.Duration(v) * time.Millisecond
		s = s[:dot]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}

	var total time.Duration
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", s)
		}
		total = total*60 + time.Duration(v)*time.Second
	}
	return total + frac, nil
}
