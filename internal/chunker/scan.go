package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"pdf-rag/internal/models"
)

type scanConfig struct {
	patterns       []*regexp.Regexp
	overlap        int
	contentType    models.ContentType
	defaultSection string
}

// scanState accumulates lines between structural boundaries
type scanState struct {
	cfg     scanConfig
	size    int
	section string

	cur    strings.Builder
	curLen int
	// cur holds more than the overlap seed
	fresh bool

	result []piece
}

// scan walks the text line by line. Structural lines start a new chunk and
// name its section, tab-separated runs become standalone table chunks, and
// everything else is accumulated until the size limit is reached.
func (c *Chunker) scan(text string, cfg scanConfig) []piece {
	state := &scanState{cfg: cfg, size: c.chunkSize, section: cfg.defaultSection}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if isTableRow(raw) {
			i = state.table(lines, i) - 1
			continue
		}
		if c.isHeading(cfg.patterns, line) {
			state.heading(line)
			continue
		}
		state.appendLine(line)
	}
	state.flush()
	return state.result
}

func isTableRow(raw string) bool {
	return strings.Contains(raw, "\t") && strings.TrimSpace(raw) != ""
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// isHeading reports whether line starts a new section. Dates never do, and
// all-caps lines count only when they are mostly letters.
func (c *Chunker) isHeading(patterns []*regexp.Regexp, line string) bool {
	if matchesAny(c.notHeading, line) {
		return false
	}
	if matchesAny(patterns, line) {
		return true
	}
	return c.allCaps.MatchString(line) && mostlyLetters(line)
}

func mostlyLetters(line string) bool {
	letters, other := 0, 0
	for _, r := range line {
		switch {
		case unicode.IsLetter(r):
			letters++
		case !unicode.IsSpace(r):
			other++
		}
	}
	return letters >= 3 && letters > other
}

// heading closes the running chunk and seeds the next one with the heading line
func (s *scanState) heading(line string) {
	s.flush()
	s.section = line
	s.reset(line)
	s.fresh = true
}

// table collects the run of tab rows starting at lines[start] into one chunk
// and returns the index of the first line after the run. Blank lines inside a
// run are dropped, trailing ones end it.
func (s *scanState) table(lines []string, start int) int {
	s.flush()
	s.reset("")

	var rows []string
	end := start
	for j := start; j < len(lines); j++ {
		raw := lines[j]
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if !strings.Contains(raw, "\t") {
			break
		}
		rows = append(rows, strings.TrimRight(raw, " \t\r"))
		end = j + 1
	}
	s.emit(strings.Join(rows, "\n"), models.ContentTypeTable)
	return end
}

func (s *scanState) appendLine(line string) {
	n := utf8.RuneCountInString(line)

	if n > s.size {
		// lines are never split
		s.flush()
		s.emit(line, s.cfg.contentType)
		s.reset(tail(line, s.cfg.overlap))
		return
	}

	if s.fresh && s.curLen+1+n > s.size {
		emitted := s.cur.String()
		s.flush()
		s.reset(tail(emitted, s.cfg.overlap))
	}

	if s.curLen > 0 {
		s.cur.WriteByte('\n')
		s.curLen++
	}
	s.cur.WriteString(line)
	s.curLen += n
	s.fresh = true
}

// flush emits the running chunk if it holds anything beyond its seed
func (s *scanState) flush() {
	if s.fresh {
		s.emit(s.cur.String(), s.cfg.contentType)
	}
	s.fresh = false
}

func (s *scanState) reset(seed string) {
	s.cur.Reset()
	s.cur.WriteString(seed)
	s.curLen = utf8.RuneCountInString(seed)
	s.fresh = false
}

func (s *scanState) emit(text string, ct models.ContentType) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.result = append(s.result, piece{text: text, section: s.section, contentType: ct})
}

// tail returns the last n characters of s
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
