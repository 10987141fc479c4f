package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/pkg/card"
)

// ClockExecutor answers current time and timezone questions.
type ClockExecutor struct {
	logger *logrus.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewClockExecutor(logger *logrus.Logger) *ClockExecutor {
	return &ClockExecutor{logger: logger, now: time.Now}
}

func (e *ClockExecutor) Name() string { return "clock" }

func (e *ClockExecutor) Skills() []card.Skill {
	return []card.Skill{
		{
			ID:          "current-time",
			Name:        "Current time",
			Description: "Reports the current time, optionally in a requested timezone or city.",
			Tags:        []string{"time", "clock", "timezone", "date", "now", "hour"},
			Examples: []string{
				"what time is it",
				"current time in Tokyo",
				"what's the date in New York",
			},
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		},
	}
}

func (e *ClockExecutor) Execute(_ context.Context, input string, _ EmitFunc) (string, error) {
	loc, label := resolveLocation(input)
	now := e.now().In(loc)

	e.logger.Debugf("Clock query resolved to zone %s", label)
	return fmt.Sprintf("The current time in %s is %s.", label, now.Format("15:04:05 on Monday, 2 January 2006 (MST)")), nil
}

// cityZones maps common city and region words to IANA zone names. Input
// that names no known place falls back to UTC.
var cityZones = map[string]string{
	"tokyo":         "Asia/Tokyo",
	"london":        "Europe/London",
	"paris":         "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"moscow":        "Europe/Moscow",
	"dubai":         "Asia/Dubai",
	"singapore":     "Asia/Singapore",
	"sydney":        "Australia/Sydney",
	"beijing":       "Asia/Shanghai",
	"shanghai":      "Asia/Shanghai",
	"delhi":         "Asia/Kolkata",
	"mumbai":        "Asia/Kolkata",
	"seattle":       "America/Los_Angeles",
	"chicago":       "America/Chicago",
	"denver":        "America/Denver",
	"toronto":       "America/Toronto",
	"amsterdam":     "Europe/Amsterdam",
	"stockholm":     "Europe/Stockholm",
	"utc":           "UTC",
	"gmt":           "UTC",
	"los angeles":   "America/Los_Angeles",
	"new york":      "America/New_York",
	"san francisco": "America/Los_Angeles",
}

func resolveLocation(input string) (*time.Location, string) {
	lowered := strings.ToLower(input)

	for city, zone := range cityZones {
		if strings.Contains(lowered, city) {
			if zone == "UTC" {
				return time.UTC, "UTC"
			}
			if loc, err := time.LoadLocation(zone); err == nil {
				return loc, capitalizeWords(city)
			}
		}
	}

	// Accept explicit IANA names like Europe/Madrid anywhere in the input.
	for _, word := range strings.Fields(input) {
		if !strings.Contains(word, "/") {
			continue
		}
		if loc, err := time.LoadLocation(strings.Trim(word, ".,?!")); err == nil {
			return loc, loc.String()
		}
	}

	return time.UTC, "UTC"
}

func capitalizeWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
