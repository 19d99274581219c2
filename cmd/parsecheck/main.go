// Command parsecheck fetches or reads a KOERI bulletin and reports how well
// the row parser handles it: framing, rejected rows, field sanity, and the
// captions that would be posted for significant earthquakes.
//
// Usage:
//
//	go run ./cmd/parsecheck -url http://www.koeri.boun.edu.tr/scripts/lst0.asp
//	go run ./cmd/parsecheck -file testdata/lst0.html -min-magnitude 3.5
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/quake-alert-bot/internal/adapter/kandilli"
	"github.com/couchcryptid/quake-alert-bot/internal/config"
	"github.com/couchcryptid/quake-alert-bot/internal/domain"
	"github.com/couchcryptid/quake-alert-bot/internal/observability"
)

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	url          string
	file         string
	minMagnitude float64
	template     string
	timeout      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.url, "url", "", "bulletin URL to fetch (default: the KOERI recent-earthquakes page)")
	flag.StringVar(&opts.file, "file", "", "read the bulletin from a saved HTML or text file instead")
	flag.Float64Var(&opts.minMagnitude, "min-magnitude", 4.0, "threshold for caption checks")
	flag.StringVar(&opts.template, "caption-template", "", "caption template YAML (default: built-in)")
	flag.DurationVar(&opts.timeout, "timeout", 15*time.Second, "fetch timeout")
	flag.Parse()

	if opts.url != "" && opts.file != "" {
		fmt.Fprintln(os.Stderr, "use either -url or -file, not both")
		flag.Usage()
		os.Exit(2)
	}
	if opts.url == "" && opts.file == "" {
		opts.url = config.DefaultBulletinURL
	}

	os.Exit(run(context.Background(), opts, os.Stdout))
}

func run(ctx context.Context, opts options, out io.Writer) int {
	fmt.Fprintln(out, "=== Bulletin Parse Check ===")
	fmt.Fprintln(out)

	text, err := loadBulletin(ctx, opts)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}

	tpl, err := domain.LoadCaptionTemplate(opts.template)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}

	report := domain.ParseBulletin(text)
	significant := domain.FilterSignificant(report.Quakes, opts.minMagnitude)

	phases := []*phase{
		checkFraming(text),
		checkRows(report),
		checkFields(report.Quakes),
		checkCaptions(significant, tpl),
	}

	// ── Report results ──
	fmt.Fprintln(out)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rows: %d parsed, %d rejected, %d at or above M%s\n",
		len(report.Quakes), len(report.Rejected), len(significant), domain.FormatMagnitude(opts.minMagnitude))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll checks passed.")
		return 0
	}
	fmt.Fprintln(out, "\nCheck FAILED.")
	return 1
}

// loadBulletin returns the bulletin data block from a file or the network.
func loadBulletin(ctx context.Context, opts options) (string, error) {
	if opts.file == "" {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		c := kandilli.NewClient(opts.url, opts.timeout, observability.NewMetricsForTesting(), logger)
		return c.FetchText(ctx)
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Saved pages keep their charset in a meta tag; let the reader sniff it.
	contentType := ""
	if strings.EqualFold(filepath.Ext(opts.file), ".txt") {
		contentType = "text/plain"
	}
	return kandilli.ReadBulletin(f, contentType)
}

// ── Phase 1: Framing ──
// The data block must hold more than the fixed header.

func checkFraming(text string) *phase {
	p := &phase{name: "Phase 1: Framing (data block)"}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= domain.BulletinHeaderLines {
		p.errorf("data block has %d lines, header alone is %d", len(lines), domain.BulletinHeaderLines)
		return p
	}
	for i, line := range lines[:domain.BulletinHeaderLines] {
		if _, ok := domain.ParseLine(line); ok {
			p.errorf("header line %d parses as an earthquake row: %q", i+1, line)
		}
	}
	if !utf8.ValidString(text) {
		p.errorf("decoded text is not valid UTF-8")
	}
	return p
}

// ── Phase 2: Rows ──
// Every non-blank row after the header should parse.

func checkRows(report domain.ParseReport) *phase {
	p := &phase{name: "Phase 2: Row Parsing"}
	if len(report.Quakes) == 0 {
		p.errorf("no rows parsed")
	}
	for _, line := range report.Rejected {
		p.errorf("rejected: %q", strings.TrimRight(line, "\r"))
	}
	return p
}

// ── Phase 3: Fields ──
// Parsed values must be physically plausible, IDs unique, rows newest first.

func checkFields(quakes []domain.Earthquake) *phase {
	p := &phase{name: "Phase 3: Field Sanity"}
	seen := make(map[string]bool, len(quakes))
	for i, q := range quakes {
		if q.Latitude < -90 || q.Latitude > 90 {
			p.errorf("%s: latitude %v out of range", q.ID, q.Latitude)
		}
		if q.Longitude < -180 || q.Longitude > 180 {
			p.errorf("%s: longitude %v out of range", q.ID, q.Longitude)
		}
		if q.Depth < 0 {
			p.errorf("%s: negative depth %v", q.ID, q.Depth)
		}
		if q.Location == domain.UnknownLocation || q.Location == "" {
			p.errorf("%s: no location text", q.ID)
		}
		if seen[q.ID] {
			p.errorf("%s: duplicate ID", q.ID)
		}
		seen[q.ID] = true
		if i > 0 && q.Time.After(quakes[i-1].Time) {
			p.errorf("%s: newer than the row above it", q.ID)
		}
	}
	return p
}

// ── Phase 4: Captions ──
// Captions for significant earthquakes must fit and carry their advisories.

func checkCaptions(quakes []domain.Earthquake, tpl domain.CaptionTemplate) *phase {
	p := &phase{name: "Phase 4: Captions (significant rows)"}
	for _, q := range quakes {
		caption := tpl.Caption(q)
		if n := utf8.RuneCountInString(caption); tpl.MaxLength > 0 && n > tpl.MaxLength {
			p.errorf("%s: caption is %d runes, limit %d", q.ID, n, tpl.MaxLength)
		}
		for _, msg := range tpl.Advisory(q.Magnitude) {
			if !strings.Contains(caption, msg) {
				p.errorf("%s: advisory missing: %q", q.ID, msg)
			}
		}
		if !strings.Contains(caption, q.Location) {
			p.errorf("%s: location missing from caption", q.ID)
		}
	}
	return p
}
