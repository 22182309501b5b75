package models

// ParseRequest carries a fetched document to the parser.
type ParseRequest struct {
	URL         string
	HTML        string
	ContentType string
}
