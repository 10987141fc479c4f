package remote

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/config"
	"github.com/ensembleai/ensemble/pkg/card"
)

// WebExecutor fetches a URL named in the utterance and extracts the
// readable text. It streams the title as soon as the page is parsed and
// the body text afterwards.
type WebExecutor struct {
	client  *http.Client
	maxBody int64
	logger  *logrus.Logger
}

const webUserAgent = "ensemble-web-agent/1.0"

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

func NewWebExecutor(cfg config.WebConfig, logger *logrus.Logger) *WebExecutor {
	return &WebExecutor{
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		maxBody: cfg.MaxBodyBytes,
		logger:  logger,
	}
}

func (e *WebExecutor) Name() string { return "web" }

func (e *WebExecutor) Skills() []card.Skill {
	return []card.Skill{
		{
			ID:          "fetch-page",
			Name:        "Fetch web page",
			Description: "Fetches a URL and returns its title and readable text content.",
			Tags:        []string{"web", "browse", "fetch", "url", "page", "website", "read"},
			Examples: []string{
				"fetch https://example.com and summarize it",
				"what does the page at https://go.dev say",
			},
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		},
	}
}

func (e *WebExecutor) Execute(ctx context.Context, input string, emit EmitFunc) (string, error) {
	url := urlPattern.FindString(input)
	if url == "" {
		return "", fmt.Errorf("no URL found in %q", input)
	}
	url = strings.TrimRight(url, ".,)")

	e.logger.Infof("Fetching %s", url)
	doc, err := e.fetch(ctx, url)
	if err != nil {
		return "", err
	}

	var out strings.Builder

	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		header := "# " + title + "\n\n"
		out.WriteString(header)
		emit(header)
	}

	var body strings.Builder
	doc.Find("h1, h2, h3, p, article, li").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			body.WriteString(text + "\n")
		}
	})

	text := body.String()
	const maxText = 8000
	if len(text) > maxText {
		text = text[:maxText] + "\n[content truncated]"
	}
	out.WriteString(text)
	emit(text)

	if out.Len() == 0 {
		return "", fmt.Errorf("no readable content at %s", url)
	}
	return out.String(), nil
}

func (e *WebExecutor) fetch(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	limited := http.MaxBytesReader(nil, resp.Body, e.maxBody)
	doc, err := goquery.NewDocumentFromReader(limited)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return doc, nil
}
