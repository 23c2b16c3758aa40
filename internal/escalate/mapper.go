package escalate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/detector"
)

const (
	DefaultGenerateTimeout = 20 * time.Second
	generateMaxTokens      = 400
	generateTemperature    = 0.7
)

// Generator produces intervention text from a prompt. Implementations must
// honor the context deadline and should return an error for safety-blocked
// or otherwise unusable output; the Mapper treats every failure the same.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Mapper turns a detected pattern plus user context into an intervention
// message. Generation failures never escape Render: the deterministic
// template always stands in.
type Mapper struct {
	gen     Generator
	timeout time.Duration
}

// NewMapper builds a Mapper. gen may be nil, in which case every pattern
// renders through its deterministic template.
func NewMapper(gen Generator, timeout time.Duration) *Mapper {
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &Mapper{gen: gen, timeout: timeout}
}

// Render produces the outgoing message for one pattern. Absence messages are
// fully deterministic; every other type prefers generated text and falls
// back on error, timeout, or empty output.
func (m *Mapper) Render(ctx context.Context, p detector.Pattern, user checkin.UserContext) string {
	if p.Type == detector.TypeAbsence {
		return renderAbsence(p, user)
	}

	if m.gen != nil {
		genCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		out, err := m.gen.Generate(genCtx, buildPrompt(p, user), generateMaxTokens, generateTemperature)
		if err != nil {
			log.Printf("[escalate] generation failed for %s, using template: %v", p.Type, err)
		} else if strings.TrimSpace(out) == "" {
			log.Printf("[escalate] empty generation for %s, using template", p.Type)
		} else {
			return strings.TrimSpace(out)
		}
	}

	return FallbackMessage(p, user)
}

// buildPrompt gives the generator the pattern evidence, the user's standing,
// and a severity-appropriate tone instruction.
func buildPrompt(p detector.Pattern, user checkin.UserContext) string {
	var sb strings.Builder
	sb.WriteString("You are an accountability coach. Write a short intervention message (2-4 sentences, plain text).\n\n")
	fmt.Fprintf(&sb, "Detected pattern: %s (severity %s)\n", p.Type, p.Severity)
	sb.WriteString("Evidence:\n")

	keys := make([]string, 0, len(p.Evidence))
	for k := range p.Evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %v\n", k, p.Evidence[k])
	}

	fmt.Fprintf(&sb, "\nUser: current streak %d days, longest %d, mode %s.\n",
		user.CurrentStreak, user.LongestStreak, user.Mode)
	fmt.Fprintf(&sb, "Tone: %s\n", toneFor(p.Severity))
	sb.WriteString("End with one concrete action the user can take in the next 24 hours. Do not invent numbers; use only the evidence above.")
	return sb.String()
}

func toneFor(s detector.Severity) string {
	switch s {
	case detector.SeverityLow, detector.SeverityMedium:
		return "supportive but direct"
	case detector.SeverityHigh, detector.SeverityWarning:
		return "firm and urgent"
	case detector.SeverityCritical:
		return "blunt, no softening, this is serious"
	default:
		return "direct"
	}
}
