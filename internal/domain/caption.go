package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed caption.yml
var defaultCaptionYAML []byte

const captionDateLayout = "02.01.2006 15:04:05"

// AdvisoryTier holds the safety messages added from MinMagnitude upward.
type AdvisoryTier struct {
	MinMagnitude float64  `yaml:"min_magnitude"`
	Messages     []string `yaml:"messages"`
}

// CaptionTemplate describes the text posted alongside an earthquake image.
type CaptionTemplate struct {
	Header         string         `yaml:"header"`
	LocationLabel  string         `yaml:"location_label"`
	MagnitudeLabel string         `yaml:"magnitude_label"`
	DepthLabel     string         `yaml:"depth_label"`
	DateLabel      string         `yaml:"date_label"`
	Attribution    string         `yaml:"attribution"`
	Advisories     []AdvisoryTier `yaml:"advisories"`
	Hashtags       []string       `yaml:"hashtags"`
	MaxLength      int            `yaml:"max_length"` // in runes; 0 means unlimited
}

// LoadCaptionTemplate reads a YAML template from path, or the built-in
// template when path is empty.
func LoadCaptionTemplate(path string) (CaptionTemplate, error) {
	data := defaultCaptionYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return CaptionTemplate{}, fmt.Errorf("read caption template: %w", err)
		}
		data = b
	}
	return ParseCaptionTemplate(data)
}

// ParseCaptionTemplate decodes and validates a YAML caption template.
func ParseCaptionTemplate(data []byte) (CaptionTemplate, error) {
	var tpl CaptionTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return CaptionTemplate{}, fmt.Errorf("parse caption template: %w", err)
	}
	if strings.TrimSpace(tpl.Header) == "" {
		return CaptionTemplate{}, errors.New("caption template: header is required")
	}
	for i := 1; i < len(tpl.Advisories); i++ {
		if tpl.Advisories[i].MinMagnitude <= tpl.Advisories[i-1].MinMagnitude {
			return CaptionTemplate{}, errors.New("caption template: advisory tiers must be in ascending min_magnitude order")
		}
	}
	for _, tier := range tpl.Advisories {
		if len(tier.Messages) == 0 {
			return CaptionTemplate{}, fmt.Errorf("caption template: tier %s has no messages", FormatMagnitude(tier.MinMagnitude))
		}
	}
	if tpl.MaxLength < 0 {
		return CaptionTemplate{}, errors.New("caption template: max_length must not be negative")
	}
	return tpl, nil
}

// Advisory returns the safety messages for a magnitude, highest tier first.
// Each tier repeats every lower tier's messages, so a stronger earthquake
// always gets a superset of a weaker one's advice.
func (t CaptionTemplate) Advisory(magnitude float64) []string {
	var msgs []string
	for i := len(t.Advisories) - 1; i >= 0; i-- {
		if magnitude >= t.Advisories[i].MinMagnitude {
			msgs = append(msgs, t.Advisories[i].Messages...)
		}
	}
	return msgs
}

// Caption builds the post text for an earthquake. When the result exceeds
// MaxLength the hashtags go first, then the attribution, and only then is
// the text clipped.
func (t CaptionTemplate) Caption(q Earthquake) string {
	details := strings.Join([]string{
		t.Header,
		"",
		fmt.Sprintf("%s: %s", t.LocationLabel, q.Location),
		fmt.Sprintf("%s: M %s", t.MagnitudeLabel, FormatMagnitude(q.Magnitude)),
		fmt.Sprintf("%s: %s km", t.DepthLabel, FormatDecimal(q.Depth)),
		fmt.Sprintf("%s: %s", t.DateLabel, q.Time.Format(captionDateLayout)),
	}, "\n")

	advisory := strings.Join(t.Advisory(q.Magnitude), "\n")

	var tags string
	if len(t.Hashtags) > 0 {
		parts := make([]string, len(t.Hashtags))
		for i, h := range t.Hashtags {
			parts[i] = "#" + strings.TrimPrefix(h, "#")
		}
		tags = strings.Join(parts, " ")
	}

	candidates := [][]string{
		{details, t.Attribution, advisory, tags},
		{details, t.Attribution, advisory},
		{details, advisory},
	}
	var text string
	for _, sections := range candidates {
		text = joinSections(sections)
		if t.MaxLength == 0 || utf8.RuneCountInString(text) <= t.MaxLength {
			return text
		}
	}
	return clip(text, t.MaxLength)
}

func joinSections(sections []string) string {
	kept := sections[:0:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

func clip(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes-1]) + "…"
}
