package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pdf-rag/internal/rag"
)

func TestCommands(t *testing.T) {
	cmd := newCommand()
	var names []string
	for _, sub := range cmd.Commands {
		names = append(names, sub.Name)
	}
	assert.Equal(t, []string{"index", "ask", "stats", "list", "clear", "export", "import"}, names)
}

func TestPrintIngest(t *testing.T) {
	var out strings.Builder
	printIngest(&out, rag.IngestResult{
		RunID:           "run-1",
		Success:         true,
		TotalChunks:     7,
		ChunksByType:    map[string]int{"invoice": 5, "contract": 2},
		DocumentsByType: map[string]int{"invoice": 2, "contract": 1},
		Documents:       3,
		Failed:          1,
		Reports: []rag.DocumentReport{
			{Filename: "a.pdf", Chunks: 5},
			{Filename: "broken.pdf", Error: "extraction broken.pdf: empty"},
		},
		Elapsed: 1500 * time.Microsecond,
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "Run run-1: 3 documents, 1 failed, 7 chunks in 2ms", lines[0])
	assert.Contains(t, lines[1], "contract")
	assert.Contains(t, lines[2], "invoice")
	assert.Equal(t, "  failed broken.pdf: extraction broken.pdf: empty", lines[3])
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, sortedKeys(nil))
}
