package tools

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"
)

// TicketFormat selects how ticket codes are rendered.
type TicketFormat string

const (
	// TicketFormatRE renders "RE" followed by six digits.
	TicketFormatRE TicketFormat = "re"
	// TicketFormatSMC renders "SMC-YYYY-MMDD-HHMM-NNN".
	TicketFormatSMC TicketFormat = "smc"
)

// TicketCodePattern matches every code either format produces.
var TicketCodePattern = regexp.MustCompile(`^(?:RE\d{6}|SMC-\d{4}-\d{4}-\d{4}-\d{3})$`)

// ParseTicketFormat maps a configuration value to a format. Empty means
// TicketFormatRE.
func ParseTicketFormat(s string) (TicketFormat, error) {
	switch TicketFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", TicketFormatRE:
		return TicketFormatRE, nil
	case TicketFormatSMC:
		return TicketFormatSMC, nil
	default:
		return "", fmt.Errorf("unknown ticket format %q", s)
	}
}

// TicketGenerator produces ticket codes. It is safe for concurrent use.
type TicketGenerator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	format TicketFormat
}

// NewTicketGenerator creates a generator. A nil rng uses a randomly seeded
// source.
func NewTicketGenerator(format TicketFormat, rng *rand.Rand) *TicketGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if format == "" {
		format = TicketFormatRE
	}
	return &TicketGenerator{rng: rng, format: format}
}

// Generate returns a new code for a ticket created at t.
func (g *TicketGenerator) Generate(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.format {
	case TicketFormatSMC:
		return fmt.Sprintf("SMC-%s-%03d", t.Format("2006-0102-1504"), g.rng.IntN(1000))
	default:
		return fmt.Sprintf("RE%06d", 100000+g.rng.IntN(900000))
	}
}
