package parser

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/dtnitsch/llm-web-search/models"
)

// ErrNoContent is returned when a document has no readable text left after cleanup.
var ErrNoContent = errors.New("no readable content")

// skippedElements are dropped together with everything inside them.
var skippedElements = []string{
	"script", "style", "iframe", "noscript", "form", "button", "input",
	"nav", "footer", "header", "aside", "svg", "video", "audio", "canvas",
	"select", "textarea", "object", "embed", "template",
}

var blankLines = regexp.MustCompile(`\n{3,}`)

type Parser struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

func NewParser() *Parser {
	policy := bluemonday.NewPolicy()
	policy.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6", "p", "br", "hr",
		"ul", "ol", "li", "dl", "dt", "dd", "blockquote", "pre", "code",
		"strong", "b", "em", "i", "sup", "sub",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
	)
	policy.SkipElementsContent(skippedElements...)

	return &Parser{
		policy: policy,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Parse extracts the main content of an HTML document and converts it to markdown.
// Readability failures fall back to the full document body.
func (p *Parser) Parse(req models.ParseRequest) (*models.Page, error) {
	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	page := &models.Page{URL: req.URL}
	content := req.HTML

	readabilityParser := readability.NewParser()
	article, err := readabilityParser.Parse(strings.NewReader(req.HTML), parsedURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
		page.Title = normalizeText(article.Title)
		page.SiteName = article.SiteName
		page.Excerpt = normalizeText(article.Excerpt)
		page.Favicon = article.Favicon
	}

	if page.Title == "" || page.Favicon == "" {
		title, favicon := headMetadata(req.HTML, parsedURL)
		if page.Title == "" {
			page.Title = title
		}
		if page.Favicon == "" {
			page.Favicon = favicon
		}
	}

	cleaned := p.policy.Sanitize(content)
	markdown, err := p.md.ConvertString(cleaned, converter.WithDomain(parsedURL.Scheme+"://"+parsedURL.Host))
	if err != nil {
		return nil, fmt.Errorf("failed to convert html to markdown: %w", err)
	}
	markdown = strings.TrimSpace(blankLines.ReplaceAllString(markdown, "\n\n"))
	if markdown == "" {
		return nil, ErrNoContent
	}
	page.Markdown = markdown
	return page, nil
}

// headMetadata reads <title> and the icon link from the raw document.
func headMetadata(html string, base *url.URL) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	title := normalizeText(doc.Find("head title").First().Text())

	var favicon string
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if !strings.Contains(rel, "icon") {
			return true
		}
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return true
		}
		if ref, err := url.Parse(href); err == nil {
			favicon = base.ResolveReference(ref).String()
		}
		return false
	})
	return title, favicon
}

// normalizeText cleans up a string by trimming space and removing excess newlines.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			b.WriteString(line)
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(b.String())
}
