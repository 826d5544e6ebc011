package routing

import (
	"regexp"
	"strings"
)

// Complexity buckets the effort a query demands.
type Complexity string

const (
	ComplexityTrivial  Complexity = "TRIVIAL"
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
	ComplexityExpert   Complexity = "EXPERT"
)

// Category labels the dominant topic of a query.
type Category string

const (
	CategoryChat     Category = "CHAT"
	CategoryCode     Category = "CODE"
	CategoryMath     Category = "MATH"
	CategoryAnalysis Category = "ANALYSIS"
	CategoryCreative Category = "CREATIVE"
	CategoryFactual  Category = "FACTUAL"
)

// Classification is the deterministic label tuple for one query.
type Classification struct {
	Complexity      Complexity
	Category        Category
	RequiresCode    bool
	RequiresMath    bool
	RequiresVision  bool
	EstimatedTokens int
}

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank you": {},
	"yes": {}, "no": {}, "ok": {}, "okay": {}, "bye": {}, "goodbye": {},
	"good morning": {}, "good night": {}, "sup": {}, "yo": {},
}

var analysisVerbs = []string{
	"analyze", "compare", "design", "evaluate", "explain why",
	"investigate", "review",
}

var expertTriggers = []string{
	"prove", "derive", "architect", "optimize complexity", "formally",
}

var codeKeywords = []string{
	"func ", "def ", "class ", "import ", "#include", "select ",
	"python", "golang", " go ", "javascript", "typescript", "rust",
	"java ", "sql", "regex", "function",
}

var mathKeywords = []string{
	"equation", "integral", "derivative", "solve for", "theorem",
	"∫", "∑",
}

var creativeKeywords = []string{
	"write a story", "write a poem", "poem", "haiku", "brainstorm",
	"imagine", "compose a", "creative",
}

var factualKeywords = []string{
	"what is", "what are", "who is", "who was", "when did", "when was",
	"where is", "how many", "how much", "define ",
}

var (
	arithmeticRe = regexp.MustCompile(`\d\s*[-+*/^=]\s*\d`)
	numberedRe   = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
)

const codeFence = "```"

// Classify labels a query. Same input always yields the same output;
// no I/O and no randomness.
func Classify(query string, hasAttachment bool) Classification {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	requiresCode := hasCodeMarker(trimmed, lower)
	requiresMath := hasMathMarker(lower)

	c := Classification{
		Complexity:      complexityOf(trimmed, lower, requiresCode),
		Category:        categoryOf(lower, requiresCode, requiresMath),
		RequiresCode:    requiresCode,
		RequiresMath:    requiresMath,
		RequiresVision:  hasAttachment,
		EstimatedTokens: len(trimmed)/4 + 256,
	}
	return c
}

func complexityOf(trimmed, lower string, requiresCode bool) Complexity {
	fences := strings.Count(trimmed, codeFence)

	// Expert: formal-reasoning triggers, multiple code blocks, or very
	// long queries.
	for _, t := range expertTriggers {
		if strings.Contains(lower, t) {
			return ComplexityExpert
		}
	}
	if fences >= 4 || len(trimmed) > 1500 {
		return ComplexityExpert
	}

	if containsAny(lower, analysisVerbs) || fences >= 2 || len(trimmed) > 500 {
		return ComplexityComplex
	}

	if len(trimmed) <= 40 {
		if _, ok := greetings[strings.TrimRight(lower, ".!?, ")]; ok {
			return ComplexityTrivial
		}
	}

	if len(trimmed) <= 160 && !requiresCode && !multiStep(lower) {
		return ComplexitySimple
	}

	return ComplexityModerate
}

func categoryOf(lower string, requiresCode, requiresMath bool) Category {
	switch {
	case requiresCode:
		return CategoryCode
	case requiresMath:
		return CategoryMath
	case containsAny(lower, analysisVerbs):
		return CategoryAnalysis
	case containsAny(lower, creativeKeywords):
		return CategoryCreative
	case containsAny(lower, factualKeywords):
		return CategoryFactual
	}
	return CategoryChat
}

func hasCodeMarker(trimmed, lower string) bool {
	if strings.Contains(trimmed, codeFence) {
		return true
	}
	return containsAny(lower, codeKeywords)
}

func hasMathMarker(lower string) bool {
	if containsAny(lower, mathKeywords) {
		return true
	}
	return arithmeticRe.MatchString(lower)
}

func multiStep(lower string) bool {
	if strings.Contains(lower, "step by step") {
		return true
	}
	if strings.Contains(lower, " and then ") {
		return true
	}
	if strings.Contains(lower, "first") && strings.Contains(lower, "then") {
		return true
	}
	return numberedRe.MatchString(lower)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
