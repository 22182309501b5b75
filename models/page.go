package models

import "strings"

// Page is the readable content extracted from one fetched HTML document.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	SiteName string `json:"site_name,omitempty"`
	Favicon  string `json:"favicon,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Markdown string `json:"markdown"`
}

// ToPlainText returns the markdown body, prefixed by the title when the body lacks it.
func (p *Page) ToPlainText() string {
	body := strings.TrimSpace(p.Markdown)
	if p.Title == "" || strings.Contains(body, p.Title) {
		return body
	}
	return "# " + p.Title + "\n\n" + body
}
