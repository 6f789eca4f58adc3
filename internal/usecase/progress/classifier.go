// Package progress turns migration tool output into typed signals and folds
// them into the display state of a run.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"skyport/internal/domain"
)

// Rule is one independent text matcher. Match decides whether the rule fires
// for a chunk; Emit produces the signals for a matching chunk.
type Rule struct {
	Name  string
	Match func(chunk string) bool
	Emit  func(chunk string) []domain.Signal
}

// Soft-failure markers. Chunks containing any of them are warnings even when
// they also contain an error keyword.
const (
	markerMissingFile    = "Failed to read media file:"
	markerUploadFailed   = "Failed to upload media"
	markerNoMediaUpload  = "No media uploaded! Check Error logs"
	markerExtractFailed  = "Failed to extract"
	markerImportStarted  = "Import started"
	markerImportFinished = "Import finished"
	markerPostCreated    = "Bluesky post created with url:"
	markerTruncating     = "Truncating image caption"
	markerSkippingPost   = "Skipping post"
)

var softFailureMarkers = []string{markerMissingFile, markerUploadFailed, markerNoMediaUpload}

var (
	importedPattern   = regexp.MustCompile(`imported (\d+) posts? with (\d+) media`)
	postURLPattern    = regexp.MustCompile(`https://bsky\.app/profile/[^\s]+`)
	truncatedPattern  = regexp.MustCompile(`from (\d+) to (\d+)`)
	percentagePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	durationPattern   = regexp.MustCompile(`Total import time: (\d+) hours? and (\d+) minutes?`)
)

// DefaultRules returns the rule table for the migration tool's log format, in
// evaluation order. Every call returns a fresh slice.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "import_started",
			Match: contains(markerImportStarted),
			Emit:  single(domain.SignalImportStarted),
		},
		{
			Name:  "imported_summary",
			Match: importedPattern.MatchString,
			Emit: func(chunk string) []domain.Signal {
				m := importedPattern.FindStringSubmatch(chunk)
				posts, err1 := strconv.Atoi(m[1])
				media, err2 := strconv.Atoi(m[2])
				if err1 != nil || err2 != nil {
					return nil
				}
				return []domain.Signal{{Kind: domain.SignalImported, Posts: posts, Media: media}}
			},
		},
		{
			Name:  "post_created",
			Match: contains(markerPostCreated),
			Emit: func(chunk string) []domain.Signal {
				return []domain.Signal{{Kind: domain.SignalPostCreated, URL: postURLPattern.FindString(chunk)}}
			},
		},
		{
			Name:  "import_finished",
			Match: contains(markerImportFinished),
			Emit:  single(domain.SignalImportFinished),
		},
		{
			Name:  "missing_file",
			Match: contains(markerMissingFile),
			Emit: func(chunk string) []domain.Signal {
				path := afterMarker(chunk, markerMissingFile)
				return warning(domain.WarningMissingFile, baseName(path), path)
			},
		},
		{
			Name:  "truncated_caption",
			Match: contains(markerTruncating),
			Emit: func(chunk string) []domain.Signal {
				msg := "Image caption truncated"
				if m := truncatedPattern.FindStringSubmatch(chunk); m != nil {
					msg = "Image caption truncated from " + m[1] + " to " + m[2] + " characters"
				}
				return warning(domain.WarningTruncatedCaption, msg, strings.TrimSpace(chunk))
			},
		},
		{
			Name:  "upload_failure",
			Match: containsAny(markerUploadFailed, markerNoMediaUpload),
			Emit: func(chunk string) []domain.Signal {
				return warning(domain.WarningUploadFailure, strings.TrimSpace(chunk), "")
			},
		},
		{
			Name:  "extraction_error",
			Match: contains(markerExtractFailed),
			Emit: func(chunk string) []domain.Signal {
				return warning(domain.WarningExtractionError, strings.TrimSpace(chunk), "")
			},
		},
		{
			Name: "failure",
			Match: func(chunk string) bool {
				if !strings.Contains(chunk, "ERROR") && !strings.Contains(chunk, "Error") {
					return false
				}
				for _, soft := range softFailureMarkers {
					if strings.Contains(chunk, soft) {
						return false
					}
				}
				return true
			},
			Emit: single(domain.SignalFailure),
		},
		{
			Name:  "skipped_post",
			Match: contains(markerSkippingPost),
			Emit: func(chunk string) []domain.Signal {
				return []domain.Signal{{
					Kind: domain.SignalSkippedPost,
					Warning: &domain.MigrationWarning{
						Type:    domain.WarningSkippedPost,
						Message: strings.TrimSpace(chunk),
					},
				}}
			},
		},
		{
			Name:  "percentage",
			Match: percentagePattern.MatchString,
			Emit: func(chunk string) []domain.Signal {
				m := percentagePattern.FindStringSubmatch(chunk)
				p, err := strconv.ParseFloat(m[1], 64)
				if err != nil {
					return nil
				}
				return []domain.Signal{{Kind: domain.SignalPercentage, Percentage: domain.ClampPercentage(p)}}
			},
		},
		{
			Name:  "duration",
			Match: durationPattern.MatchString,
			Emit: func(chunk string) []domain.Signal {
				m := durationPattern.FindStringSubmatch(chunk)
				hours, err1 := strconv.Atoi(m[1])
				minutes, err2 := strconv.Atoi(m[2])
				if err1 != nil || err2 != nil {
					return nil
				}
				d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
				return []domain.Signal{{Kind: domain.SignalDuration, Duration: d}}
			},
		},
	}
}

// Classifier runs an ordered rule table over single chunks of output. It holds
// no per-run state and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier over rules, or over DefaultRules when none are given.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Rules returns the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Classify runs every rule against chunk and returns the signals of all
// matching rules, in rule order. Rules are not mutually exclusive. A chunk no
// rule recognizes yields an empty result. A panicking rule is skipped.
func (c *Classifier) Classify(chunk string) []domain.Signal {
	var out []domain.Signal
	for _, r := range c.rules {
		out = append(out, applyRule(r, chunk)...)
	}
	return out
}

// ClassifyExit converts a process exit code into an exit signal.
func (c *Classifier) ClassifyExit(code int) domain.Signal {
	return domain.Signal{Kind: domain.SignalExit, Rule: "exit", ExitCode: code}
}

// ClassifyOutput classifies one output event: stdout and stderr lines go
// through the rule table, exit events through ClassifyExit. Pipe errors carry
// no migration information and yield nothing.
func (c *Classifier) ClassifyOutput(ev domain.OutputEvent) []domain.Signal {
	switch ev.Type {
	case domain.OutputStdout, domain.OutputStderr:
		return c.Classify(ev.Data)
	case domain.OutputExit:
		code := -1
		if ev.Code != nil {
			code = *ev.Code
		}
		return []domain.Signal{c.ClassifyExit(code)}
	default:
		return nil
	}
}

func applyRule(r Rule, chunk string) (out []domain.Signal) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	if r.Match == nil || r.Emit == nil || !r.Match(chunk) {
		return nil
	}
	out = r.Emit(chunk)
	for i := range out {
		out[i].Rule = r.Name
		out[i].Text = chunk
	}
	return out
}

// --- matcher helpers ---

func contains(marker string) func(string) bool {
	return func(chunk string) bool { return strings.Contains(chunk, marker) }
}

func containsAny(markers ...string) func(string) bool {
	return func(chunk string) bool {
		for _, m := range markers {
			if strings.Contains(chunk, m) {
				return true
			}
		}
		return false
	}
}

func single(kind domain.SignalKind) func(string) []domain.Signal {
	return func(string) []domain.Signal { return []domain.Signal{{Kind: kind}} }
}

func warning(typ domain.WarningType, message, details string) []domain.Signal {
	return []domain.Signal{{
		Kind:    domain.SignalWarning,
		Warning: &domain.MigrationWarning{Type: typ, Message: message, Details: details},
	}}
}

func afterMarker(chunk, marker string) string {
	i := strings.Index(chunk, marker)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(chunk[i+len(marker):])
}

// baseName returns the last element of a slash- or backslash-separated path.
func baseName(p string) string {
	p = strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
