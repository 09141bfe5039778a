package render

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultPreset is used when a range asks for a preset without naming one.
const DefaultPreset = "last_24_hours"

// customLayout is the earliest/latest format understood by the dashboards.
const customLayout = "01/02/2006:15:04:05"

var (
	ErrUnknownPreset = errors.New("render: unknown time range preset")
	ErrInvalidRange  = errors.New("render: invalid time range")
)

type bounds struct{ earliest, latest string }

var presets = map[string]bounds{
	"last_hour":     {"-1h@h", "now"},
	"last_4_hours":  {"-4h@h", "now"},
	"last_24_hours": {"-24h@h", "now"},
	"last_7_days":   {"-7d@d", "now"},
	"last_30_days":  {"-30d@d", "now"},
	"today":         {"@d", "now"},
	"yesterday":     {"-1d@d", "@d"},
	"this_week":     {"@w0", "now"},
	"last_week":     {"-1w@w0", "@w0"},
	"this_month":    {"@mon", "now"},
	"last_month":    {"-1mon@mon", "@mon"},
}

// Presets lists the known preset tokens.
func Presets() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TimeRange selects the data window shown by a dashboard: either a preset
// token or an explicit From/To pair. The zero value leaves the URL untouched.
type TimeRange struct {
	Preset string     `json:"preset,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

func (tr TimeRange) IsZero() bool {
	return tr.Preset == "" && tr.From == nil && tr.To == nil
}

func (tr TimeRange) Validate() error {
	custom := tr.From != nil || tr.To != nil
	switch {
	case tr.Preset != "" && custom:
		return fmt.Errorf("%w: preset and from/to are exclusive", ErrInvalidRange)
	case tr.Preset != "":
		if _, ok := presets[strings.ToLower(tr.Preset)]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPreset, tr.Preset)
		}
	case custom:
		if tr.From == nil || tr.To == nil {
			return fmt.Errorf("%w: from and to are both required", ErrInvalidRange)
		}
		if !tr.From.Before(*tr.To) {
			return fmt.Errorf("%w: from must be before to", ErrInvalidRange)
		}
	}
	return nil
}

// Bounds returns the earliest/latest tokens for the range.
func (tr TimeRange) Bounds() (earliest, latest string, err error) {
	if err := tr.Validate(); err != nil {
		return "", "", err
	}
	switch {
	case tr.Preset != "":
		b := presets[strings.ToLower(tr.Preset)]
		return b.earliest, b.latest, nil
	case tr.From != nil:
		return tr.From.Format(customLayout), tr.To.Format(customLayout), nil
	}
	return "", "", nil
}

func (tr TimeRange) String() string {
	switch {
	case tr.Preset != "":
		return tr.Preset
	case tr.From != nil && tr.To != nil:
		return tr.From.Format(customLayout) + "-" + tr.To.Format(customLayout)
	}
	return "default"
}

// ApplyTimeRange writes the range into rawURL's query as <prefix>.earliest and
// <prefix>.latest (plain earliest/latest without a prefix). Other query
// parameters are preserved.
func ApplyTimeRange(rawURL, prefix string, tr TimeRange) (string, error) {
	if tr.IsZero() {
		return rawURL, nil
	}
	earliest, latest, err := tr.Bounds()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("render: parse url: %w", err)
	}
	key := func(name string) string {
		if p := strings.TrimSuffix(strings.TrimSpace(prefix), "."); p != "" {
			return p + "." + name
		}
		return name
	}
	q := u.Query()
	q.Set(key("earliest"), earliest)
	q.Set(key("latest"), latest)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
