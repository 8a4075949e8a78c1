// Package seo carries per-page metadata and schema.org payloads.
package seo

import (
	"encoding/json"
	"html/template"
)

// OpenGraph fields rendered as og:* meta tags.
type OpenGraph struct {
	Title       string
	Description string
	Image       string
	Type        string
	URL         string
	SiteName    string
}

// Alternate is an hreflang link.
type Alternate struct {
	Lang string
	Href string
}

// Meta is the head metadata of one page.
type Meta struct {
	Title       string
	Description string
	Canonical   string
	Robots      string
	OG          OpenGraph
	Alternates  []Alternate
	JSONLD      []template.JS
}

// JSON marshals v compactly. It returns an empty string on error.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Script wraps a schema payload for a ld+json script element. json.Marshal escapes <, > and &, so
// the payload cannot close the element.
func Script(v any) template.JS {
	return template.JS(JSON(v))
}

// WebSite returns a WebSite schema with a search action when searchURL is set.
func WebSite(name, url, searchURL string) map[string]any {
	m := map[string]any{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     name,
	}
	if url != "" {
		m["url"] = url
	}
	if searchURL != "" {
		m["potentialAction"] = map[string]any{
			"@type":       "SearchAction",
			"target":      searchURL + "{search_term_string}",
			"query-input": "required name=search_term_string",
		}
	}
	return m
}

// Product returns a Product schema with a single offer.
func Product(name, description, url, imageURL, sku string, price float64, currency string) map[string]any {
	m := map[string]any{
		"@context":    "https://schema.org",
		"@type":       "Product",
		"name":        name,
		"description": description,
	}
	if url != "" {
		m["url"] = url
	}
	if imageURL != "" {
		m["image"] = imageURL
	}
	if sku != "" {
		m["sku"] = sku
	}
	if currency != "" {
		m["offers"] = map[string]any{
			"@type":         "Offer",
			"price":         price,
			"priceCurrency": currency,
		}
	}
	return m
}

// Article returns an Article schema.
func Article(headline, url, authorName, datePublished string) map[string]any {
	m := map[string]any{
		"@context": "https://schema.org",
		"@type":    "Article",
		"headline": headline,
	}
	if url != "" {
		m["url"] = url
	}
	if authorName != "" {
		m["author"] = map[string]any{"@type": "Person", "name": authorName}
	}
	if datePublished != "" {
		m["datePublished"] = datePublished
	}
	return m
}
