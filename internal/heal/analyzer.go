// internal/heal/analyzer.go
package heal

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// functionSpan is an approximate line range in the subject parser module.
type functionSpan struct {
	start, end int
}

// Known parser functions and their approximate locations. Advisory for source
// excerpts and commit messages; never used to address edits.
var functionMap = map[string]functionSpan{
	"strip_ansi":          {181, 182},
	"clean_date_string":   {184, 191},
	"parse_reset_time":    {193, 290},
	"validate_reset_time": {292, 313},
	"extract_usage_data":  {320, 361},
	"session_regex":       {333, 336},
	"week_regex":          {340, 343},
}

var dateStringPattern = regexp.MustCompile(`(?:time data |parse[: ]+)['"]([^'"]+)['"]`)

var ansiSequencePattern = regexp.MustCompile(`\\x1[bB]\[([^m]*m?)`)

// Inference table mapping date-string shapes to strptime formats.
var formatInference = []struct {
	pattern *regexp.Regexp
	format  string
}{
	{regexp.MustCompile(`(?i)^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{4})\s+at\s+(\d{1,2}):(\d{2})(am|pm)$`), "%b %d %Y at %I:%M%p"},
	{regexp.MustCompile(`(?i)^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{4})\s+at\s+(\d{1,2})(am|pm)$`), "%b %d %Y at %I%p"},
	{regexp.MustCompile(`(?i)^([A-Z][a-z]{2})\s+(\d{1,2})\s+at\s+(\d{1,2}):(\d{2})(am|pm)$`), "%b %d at %I:%M%p"},
	{regexp.MustCompile(`(?i)^([A-Z][a-z]{2})\s+(\d{1,2})\s+at\s+(\d{1,2})(am|pm)$`), "%b %d at %I%p"},
	{regexp.MustCompile(`(?i)^(\d{1,2})\s+([A-Z][a-z]{2})\s+at\s+(\d{1,2}):(\d{2})(am|pm)$`), "%d %b at %I:%M%p"},
	{regexp.MustCompile(`(?i)^(\d{1,2}):(\d{2})(am|pm)$`), "%I:%M%p"},
	{regexp.MustCompile(`(?i)^(\d{1,2})(am|pm)$`), "%I%p"},
}

// Analyzer turns classified failures into root causes with enough context for
// the fix generator. It optionally carries the subject parser's source for
// excerpt extraction.
type Analyzer struct {
	logger      *zap.Logger
	sourceLines []string
}

// NewAnalyzer builds an analyzer. parserSource may be empty; source excerpts
// are then unavailable.
func NewAnalyzer(parserSource string, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{logger: logger.Named("analyzer")}
	if parserSource != "" {
		a.sourceLines = strings.Split(parserSource, "\n")
	}
	return a
}

// Analyze produces exactly one root cause per failure, dispatching on the
// failure category.
func (a *Analyzer) Analyze(f ClassifiedFailure) RootCause {
	var rc RootCause
	switch f.Category {
	case CategoryNewFormat:
		rc = a.analyzeNewFormat(f)
	case CategoryPatternMismatch:
		rc = a.analyzePatternMismatch(f)
	case CategoryValidationError:
		rc = a.analyzeValidation(f)
	case CategoryTerminalCorruption:
		rc = a.analyzeCorruption(f)
	case CategoryBoundary:
		rc = a.analyzeBoundary(f)
	default:
		rc = a.analyzeUnknown(f)
	}

	a.logger.Debug("analyzed failure",
		zap.String("test", f.TestName),
		zap.String("fix_type", rc.SuggestedFixType),
		zap.Bool("requires_ai", rc.RequiresAI),
	)
	return rc
}

func (a *Analyzer) analyzeNewFormat(f ClassifiedFailure) RootCause {
	var dateString string
	if m := dateStringPattern.FindStringSubmatch(f.ExceptionMessage); m != nil {
		dateString = m[1]
	}

	inferred := ""
	if dateString != "" {
		inferred = inferDateFormat(dateString)
	}

	ctx := map[string]string{}
	if dateString != "" {
		ctx[CtxDateString] = dateString
	}
	if inferred != "" {
		ctx[CtxInferredFormat] = inferred
	}

	// Pick the format list to extend: strings with an "at" separator are
	// dates, longer ones carry a year; the rest are bare times.
	var fixType string
	switch {
	case dateString != "" && strings.Contains(strings.ToLower(dateString), "at"):
		if len(strings.Fields(dateString)) > 4 {
			fixType = FixAddDateFormatWithYear
		} else {
			fixType = FixAddDateFormatNoYear
		}
	default:
		fixType = FixAddTimeFormat
	}

	return RootCause{
		Failure:          f,
		Description:      fmt.Sprintf("New date format not recognized: %q", dateString),
		AffectedFunction: "parse_reset_time",
		LineStart:        230,
		LineEnd:          243,
		SuggestedFixType: fixType,
		Context:          ctx,
		RequiresAI:       inferred == "",
	}
}

func (a *Analyzer) analyzePatternMismatch(f ClassifiedFailure) RootCause {
	trace := strings.ToLower(f.TraceText)
	isSession := strings.Contains(trace, "session")
	isWeek := strings.Contains(trace, "week")

	affected := "extract_usage_data"
	switch {
	case isSession && !isWeek:
		affected = "session_regex"
	case isWeek:
		affected = "week_regex"
	}
	span := functionMap[affected]

	ctx := map[string]string{}
	if isSession {
		ctx[CtxSession] = "true"
	}
	if isWeek {
		ctx[CtxWeek] = "true"
	}

	return RootCause{
		Failure:          f,
		Description:      "Regex pattern failed to match: " + affected,
		AffectedFunction: affected,
		LineStart:        span.start,
		LineEnd:          span.end,
		SuggestedFixType: FixBroadenPattern,
		Context:          ctx,
		RequiresAI:       true,
	}
}

func (a *Analyzer) analyzeValidation(f ClassifiedFailure) RootCause {
	msg := strings.ToLower(f.ExceptionMessage)

	ctx := map[string]string{}
	if strings.Contains(msg, "exceeds") {
		ctx[CtxWindowExceeded] = "true"
	}
	if strings.Contains(msg, "past") {
		ctx[CtxInPast] = "true"
	}
	span := functionMap["validate_reset_time"]

	return RootCause{
		Failure:          f,
		Description:      "Validation rejected parsed value",
		AffectedFunction: "validate_reset_time",
		LineStart:        span.start,
		LineEnd:          span.end,
		SuggestedFixType: FixAdjustValidation,
		Context:          ctx,
		RequiresAI:       false,
	}
}

func (a *Analyzer) analyzeCorruption(f ClassifiedFailure) RootCause {
	ctx := map[string]string{}
	if m := ansiSequencePattern.FindString(f.ExceptionMessage); m != "" {
		ctx[CtxDetectedSequence] = m
	}
	span := functionMap["strip_ansi"]

	return RootCause{
		Failure:          f,
		Description:      "ANSI escape sequence not properly stripped",
		AffectedFunction: "strip_ansi",
		LineStart:        span.start,
		LineEnd:          span.end,
		SuggestedFixType: FixEnhanceCorruption,
		Context:          ctx,
		RequiresAI:       true,
	}
}

func (a *Analyzer) analyzeBoundary(f ClassifiedFailure) RootCause {
	msg := strings.ToLower(f.ExceptionMessage)
	isMidnight := strings.Contains(msg, "midnight") || strings.Contains(msg, "12:00am")
	isYearWrap := strings.Contains(msg, "year") ||
		(strings.Contains(msg, "dec") && strings.Contains(msg, "jan"))

	ctx := map[string]string{}
	if isMidnight {
		ctx[CtxMidnightCrossing] = "true"
	}
	if isYearWrap {
		ctx[CtxYearWrap] = "true"
	}

	fixType := FixMidnightLogic
	start, end := 276, 284
	switch {
	case isMidnight:
	case isYearWrap:
		fixType = FixYearWrap
		start, end = 260, 267
	default:
		span := functionMap["parse_reset_time"]
		start, end = span.start, span.end
	}

	return RootCause{
		Failure:          f,
		Description:      "Edge case in date/time handling",
		AffectedFunction: "parse_reset_time",
		LineStart:        start,
		LineEnd:          end,
		SuggestedFixType: fixType,
		Context:          ctx,
		RequiresAI:       true,
	}
}

func (a *Analyzer) analyzeUnknown(f ClassifiedFailure) RootCause {
	return RootCause{
		Failure:          f,
		Description:      "Unknown failure type - requires external diagnosis",
		AffectedFunction: "unknown",
		SuggestedFixType: FixAIDiagnose,
		Context:          map[string]string{},
		RequiresAI:       true,
	}
}

// inferDateFormat maps a date string to a strptime format, or "" when no
// shape in the inference table matches.
func inferDateFormat(dateString string) string {
	for _, entry := range formatInference {
		if entry.pattern.MatchString(dateString) {
			return entry.format
		}
	}
	return ""
}

// SourceContext renders numbered source lines around [startLine, endLine],
// with the affected lines marked. Line numbers are 1-indexed. Returns "" when
// no source was supplied.
func (a *Analyzer) SourceContext(startLine, endLine, contextLines int) string {
	if len(a.sourceLines) == 0 {
		return ""
	}

	start := startLine - 1 - contextLines
	if start < 0 {
		start = 0
	}
	end := endLine + contextLines
	if end > len(a.sourceLines) {
		end = len(a.sourceLines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		prefix := "    "
		if i >= startLine-1 && i < endLine {
			prefix = ">>> "
		}
		fmt.Fprintf(&b, "%s%4d: %s\n", prefix, i+1, a.sourceLines[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
