// Package i18n loads flat JSON translation tables and resolves request languages.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed locales/*.json
var embedded embed.FS

// Bundle holds one dictionary per supported language.
type Bundle struct {
	dict      map[string]map[string]string
	fallback  string
	supported []string
	tags      []language.Tag
	matcher   language.Matcher
}

// Default loads the translations compiled into the binary.
func Default(fallback string, supported []string) (*Bundle, error) {
	sub, err := fs.Sub(embedded, "locales")
	if err != nil {
		return nil, err
	}
	return Load(sub, fallback, supported)
}

// Load reads <lang>.json for every supported language from fsys. Only the fallback file is
// required.
func Load(fsys fs.FS, fallback string, supported []string) (*Bundle, error) {
	fallback = strings.ToLower(strings.TrimSpace(fallback))
	if fallback == "" {
		fallback = "en"
	}
	if len(supported) == 0 {
		supported = []string{fallback}
	}
	b := &Bundle{dict: map[string]map[string]string{}, fallback: fallback}

	// The fallback goes first so the matcher defaults to it.
	ordered := []string{fallback}
	for _, l := range supported {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && l != fallback {
			ordered = append(ordered, l)
		}
	}
	for _, l := range ordered {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", l, err)
		}
		raw, err := fs.ReadFile(fsys, l+".json")
		if err != nil {
			if l == fallback {
				return nil, fmt.Errorf("load locale %s: %w", l, err)
			}
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", l, err)
		}
		b.dict[l] = m
		b.supported = append(b.supported, l)
		b.tags = append(b.tags, tag)
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// Supported returns the loaded languages, sorted.
func (b *Bundle) Supported() []string {
	out := append([]string(nil), b.supported...)
	sort.Strings(out)
	return out
}

// Fallback returns the configured fallback language.
func (b *Bundle) Fallback() string { return b.fallback }

// IsSupported reports whether lang has a dictionary.
func (b *Bundle) IsSupported(lang string) bool {
	_, ok := b.dict[strings.ToLower(lang)]
	return ok
}

// T returns the translation for key in lang, falling back to the default language and finally
// the key itself. Backend messages that are not keys therefore pass through unchanged.
func (b *Bundle) T(lang, key string) string {
	if m, ok := b.dict[lang]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := b.dict[b.fallback]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Tf translates key and formats it with args using lang's number conventions.
func (b *Bundle) Tf(lang, key string, args ...any) string {
	return message.NewPrinter(b.Tag(lang)).Sprintf(b.T(lang, key), args...)
}

// Tag returns the language tag for lang, or the fallback's.
func (b *Bundle) Tag(lang string) language.Tag {
	for i, l := range b.supported {
		if l == lang {
			return b.tags[i]
		}
	}
	if len(b.tags) > 0 {
		return b.tags[0]
	}
	return language.English
}

// Resolve picks the best supported language for an Accept-Language header.
func (b *Bundle) Resolve(acceptLang string) string {
	prefs, _, err := language.ParseAcceptLanguage(acceptLang)
	if err != nil || len(prefs) == 0 {
		return b.fallback
	}
	_, idx, conf := b.matcher.Match(prefs...)
	if conf == language.No || idx < 0 || idx >= len(b.supported) {
		return b.fallback
	}
	return b.supported[idx]
}
