package vision

import (
	"sort"
	"strings"

	visionapi "google.golang.org/api/vision/v1"
)

// rowHeight groups blocks whose vertical centres fall in the same band
const rowHeight = 10

type layoutBlock struct {
	text string
	x    float64
}

// pageText rebuilds a page from its blocks: blocks are grouped into rows by
// vertical position, ordered left to right, and a row of several blocks is
// written as one tab-separated line. Pages without usable block geometry
// fall back to the plain annotation text.
func pageText(ann *visionapi.TextAnnotation) string {
	if ann == nil {
		return ""
	}

	rows := map[int][]layoutBlock{}
	for _, page := range ann.Pages {
		for _, block := range page.Blocks {
			x, y, ok := blockPosition(block.BoundingBox, page)
			if !ok {
				continue
			}
			text := blockText(block)
			if text == "" {
				continue
			}
			key := int(y/rowHeight) * rowHeight
			rows[key] = append(rows[key], layoutBlock{text: text, x: x})
		}
	}
	if len(rows) == 0 {
		return ann.Text
	}

	keys := make([]int, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var b strings.Builder
	for _, k := range keys {
		row := rows[k]
		sort.SliceStable(row, func(i, j int) bool { return row[i].x < row[j].x })
		if len(row) == 1 {
			b.WriteString(row[0].text)
		} else {
			cells := make([]string, len(row))
			for i, blk := range row {
				// a cell must not break the row
				cells[i] = strings.Join(strings.Fields(blk.text), " ")
			}
			b.WriteString(strings.Join(cells, "\t"))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// blockPosition returns the leftmost x and the mean y of a bounding box.
// PDF pages report normalized vertices, which are scaled by the page size.
func blockPosition(box *visionapi.BoundingPoly, page *visionapi.Page) (x, y float64, ok bool) {
	if box == nil {
		return 0, 0, false
	}
	var xs, ys []float64
	if len(box.Vertices) > 0 {
		for _, v := range box.Vertices {
			if v != nil {
				xs = append(xs, float64(v.X))
				ys = append(ys, float64(v.Y))
			}
		}
	} else {
		for _, v := range box.NormalizedVertices {
			if v != nil {
				xs = append(xs, v.X*float64(page.Width))
				ys = append(ys, v.Y*float64(page.Height))
			}
		}
	}
	if len(xs) == 0 {
		return 0, 0, false
	}

	x = xs[0]
	sum := 0.0
	for i := range xs {
		x = min(x, xs[i])
		sum += ys[i]
	}
	return x, sum / float64(len(ys)), true
}

// blockText joins words with spaces and paragraphs with newlines
func blockText(block *visionapi.Block) string {
	paragraphs := make([]string, 0, len(block.Paragraphs))
	for _, para := range block.Paragraphs {
		words := make([]string, 0, len(para.Words))
		for _, word := range para.Words {
			var w strings.Builder
			for _, sym := range word.Symbols {
				w.WriteString(sym.Text)
			}
			if w.Len() > 0 {
				words = append(words, w.String())
			}
		}
		if len(words) > 0 {
			paragraphs = append(paragraphs, strings.Join(words, " "))
		}
	}
	return strings.Join(paragraphs, "\n")
}
