// internal/heal/classifier.go
package heal

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type classifierRule struct {
	pattern    *regexp.Regexp
	confidence float64
}

type ruleGroup struct {
	category FailureCategory
	rules    []classifierRule
}

func mustRule(expr string, conf float64) classifierRule {
	return classifierRule{pattern: regexp.MustCompile("(?i)" + expr), confidence: conf}
}

// Rule groups are evaluated in declaration order; on equal confidence the
// earlier match wins.
var classifierRules = []ruleGroup{
	{CategoryPatternMismatch, []classifierRule{
		mustRule(`AttributeError.*'NoneType'.*'group'`, 0.95),
		mustRule(`no match found`, 0.90),
		mustRule(`pattern.*not found`, 0.85),
		mustRule(`regex.*failed`, 0.80),
		mustRule(`session_match.*None`, 0.90),
		mustRule(`week_match.*None`, 0.90),
	}},
	{CategoryNewFormat, []classifierRule{
		mustRule(`ValueError.*time data.*does not match format`, 0.95),
		mustRule(`strptime.*ValueError`, 0.90),
		mustRule(`Failed to parse.*time`, 0.85),
		mustRule(`unconverted data remains`, 0.90),
		mustRule(`invalid date format`, 0.85),
	}},
	{CategoryValidationError, []classifierRule{
		mustRule(`exceeds.*window`, 0.95),
		mustRule(`in past`, 0.90),
		mustRule(`Invalid.*reset time`, 0.90),
		mustRule(`validation.*failed`, 0.85),
		mustRule(`out of range`, 0.80),
	}},
	{CategoryTerminalCorruption, []classifierRule{
		mustRule(`\\x1[bB]`, 0.95),
		mustRule(`\x1b\[[0-9;]*m`, 0.85),
		mustRule(`escape sequence`, 0.80),
		mustRule(`ANSI.*not stripped`, 0.90),
		mustRule(`control character`, 0.80),
	}},
	{CategoryBoundary, []classifierRule{
		mustRule(`midnight`, 0.85),
		mustRule(`year.*wrap`, 0.90),
		mustRule(`boundary`, 0.80),
		mustRule(`12:00am`, 0.80),
		mustRule(`Dec.*Jan|Jan.*Dec`, 0.85),
	}},
}

// Fallback confidences when only the exception kind is informative.
var kindFallbacks = []struct {
	kind       string
	category   FailureCategory
	confidence float64
}{
	{"AttributeError", CategoryPatternMismatch, 0.6},
	{"ValueError", CategoryNewFormat, 0.5},
	{"KeyError", CategoryPatternMismatch, 0.4},
	{"IndexError", CategoryPatternMismatch, 0.4},
	{"TypeError", CategoryUnknown, 0.3},
}

// Classifier places raw failures into the failure taxonomy using ordered
// pattern tables over the combined exception text. Stateless and safe for
// concurrent use.
type Classifier struct {
	logger *zap.Logger
}

func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger.Named("classifier")}
}

// Classify assigns a category and confidence to one failure.
func (c *Classifier) Classify(f RawFailure) ClassifiedFailure {
	fullText := f.ExceptionKind + " " + f.ExceptionMessage + " " + f.TraceText

	out := ClassifiedFailure{RawFailure: f}
	var best FailureCategory
	bestConf := 0.0

	for _, group := range classifierRules {
		for _, rule := range group.rules {
			if !rule.pattern.MatchString(fullText) {
				continue
			}
			out.Evidence = append(out.Evidence, MatchedPattern{
				Category:   group.category,
				Pattern:    rule.pattern.String(),
				Confidence: rule.confidence,
			})
			if rule.confidence > bestConf {
				bestConf = rule.confidence
				best = group.category
			}
		}
	}

	// Weak or absent match: fall back to the exception kind alone.
	if best == "" || bestConf < 0.7 {
		for _, fb := range kindFallbacks {
			if strings.Contains(f.ExceptionKind, fb.kind) {
				if fb.confidence > bestConf {
					best = fb.category
					bestConf = fb.confidence
					out.KindFallback = true
				}
				break
			}
		}
	}

	// Raw escape bytes in the fixture suggest corruption the rules missed.
	if f.FixtureContent != "" && bestConf < 0.8 {
		if strings.ContainsRune(f.FixtureContent, '\x1b') {
			out.ControlBytesInFixture = true
			if bestConf < 0.7 {
				best = CategoryTerminalCorruption
				bestConf = 0.75
			}
		}
	}

	if best == "" || bestConf < 0.5 {
		best = CategoryUnknown
		bestConf = 0.0
	}

	out.Category = best
	out.Confidence = bestConf

	c.logger.Debug("classified failure",
		zap.String("test", f.TestName),
		zap.String("category", string(best)),
		zap.Float64("confidence", bestConf),
	)
	return out
}

// ClassifyBatch classifies failures concurrently. Each failure is independent
// so output order matches input order regardless of scheduling.
func (c *Classifier) ClassifyBatch(failures []RawFailure) []ClassifiedFailure {
	out := make([]ClassifiedFailure, len(failures))

	var g errgroup.Group
	g.SetLimit(8)
	for i, f := range failures {
		i, f := i, f
		g.Go(func() error {
			out[i] = c.Classify(f)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
