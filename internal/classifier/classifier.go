package classifier

import (
	"regexp"
	"strings"

	"pdf-rag/internal/models"
)

type category struct {
	docType  models.DocType
	patterns []*regexp.Regexp
}

// Classifier scores text against keyword rules per document category
type Classifier struct {
	categories []category
}

// New compiles the given rules. Rule order decides ties.
func New(rules []models.DocTypeRule) (*Classifier, error) {
	c := &Classifier{}
	for _, rule := range rules {
		cat := category{docType: rule.DocType}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, err
			}
			cat.patterns = append(cat.patterns, re)
		}
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

var defaultClassifier = MustNew(models.DocTypeRules)

// MustNew is New that panics on a bad pattern
func MustNew(rules []models.DocTypeRule) *Classifier {
	c, err := New(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the classifier built from models.DocTypeRules
func Default() *Classifier {
	return defaultClassifier
}

// Classify returns the category with the strictly highest score. Equal
// scores go to the category declared first; a zero score is general.
func (c *Classifier) Classify(text string) models.DocType {
	best, bestScore := models.DocTypeGeneral, 0
	lower := strings.ToLower(text)
	for _, cat := range c.categories {
		if s := cat.score(lower); s > bestScore {
			best, bestScore = cat.docType, s
		}
	}
	return best
}

// Scores returns the number of distinct patterns matched per category
func (c *Classifier) Scores(text string) map[models.DocType]int {
	lower := strings.ToLower(text)
	scores := make(map[models.DocType]int, len(c.categories))
	for _, cat := range c.categories {
		scores[cat.docType] = cat.score(lower)
	}
	return scores
}

func (cat category) score(text string) int {
	n := 0
	for _, re := range cat.patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}
