package cms

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

var (
	md        = goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Typographer))
	sanitizer = bluemonday.UGCPolicy()
)

type frontMatter struct {
	Title       string   `yaml:"title"`
	Summary     string   `yaml:"summary"`
	Lang        string   `yaml:"lang"`
	Format      string   `yaml:"format"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags"`
	PublishedAt string   `yaml:"published_at"`
	UpdatedAt   string   `yaml:"updated_at"`
	SEO         struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Image       string `yaml:"image"`
	} `yaml:"seo"`
}

// Render converts body to sanitized HTML. format is "markdown" (default) or "html".
func Render(body, format string) (template.HTML, error) {
	raw := []byte(body)
	if !strings.EqualFold(strings.TrimSpace(format), "html") {
		var buf bytes.Buffer
		if err := md.Convert(raw, &buf); err != nil {
			return "", fmt.Errorf("cms: render markdown: %w", err)
		}
		raw = buf.Bytes()
	}
	return template.HTML(sanitizer.SanitizeBytes(raw)), nil
}

func readMarkdown(fsys fs.FS, name, kind, slug, lang string) (Page, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Page{}, err
	}
	fm, body := splitFrontMatter(string(data))
	var front frontMatter
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return Page{}, fmt.Errorf("cms: parse front matter %s: %w", name, err)
		}
	}
	html, err := Render(body, front.Format)
	if err != nil {
		return Page{}, err
	}
	page := Page{
		Kind:        kind,
		Slug:        slug,
		Lang:        firstNonEmpty(strings.TrimSpace(front.Lang), lang),
		Title:       firstNonEmpty(strings.TrimSpace(front.Title), prettifySlug(slug)),
		Summary:     strings.TrimSpace(front.Summary),
		Body:        html,
		Author:      strings.TrimSpace(front.Author),
		Tags:        front.Tags,
		PublishedAt: parseDate(front.PublishedAt),
		UpdatedAt:   parseDate(front.UpdatedAt),
		SEO: SEO{
			Title:       strings.TrimSpace(front.SEO.Title),
			Description: strings.TrimSpace(front.SEO.Description),
			Image:       strings.TrimSpace(front.SEO.Image),
		},
	}
	if page.UpdatedAt.IsZero() {
		page.UpdatedAt = page.PublishedAt
	}
	return page, nil
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n\r")
		}
	}
	return "", input
}

func parseDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
