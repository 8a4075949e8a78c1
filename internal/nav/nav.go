// Package nav builds the storefront's top navigation and breadcrumbs.
package nav

import (
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Item is a top-level navigation entry.
type Item struct {
	Path     string
	LabelKey string
}

// RenderedItem is an Item resolved against the current path.
type RenderedItem struct {
	Href     string
	LabelKey string
	Active   bool
}

// Crumb is one breadcrumb entry. Templates translate LabelKey when set, else print Label.
type Crumb struct {
	Href     string
	LabelKey string
	Label    string
	Active   bool
}

// Main is the primary navigation.
var Main = []Item{
	{Path: "/search", LabelKey: "nav.search"},
	{Path: "/articles", LabelKey: "nav.articles"},
	{Path: "/cart", LabelKey: "nav.cart"},
	{Path: "/my-pages", LabelKey: "nav.account"},
}

// sectionKeys labels first path segments that are not in Main.
var sectionKeys = map[string]string{
	"/product":  "nav.product",
	"/article":  "nav.articles",
	"/checkout": "nav.checkout",
	"/order":    "nav.order",
	"/login":    "nav.login",
}

// Build marks the item matching currentPath as active.
func Build(currentPath string) []RenderedItem {
	if currentPath == "" {
		currentPath = "/"
	}
	items := make([]RenderedItem, 0, len(Main))
	for _, it := range Main {
		items = append(items, RenderedItem{
			Href:     it.Path,
			LabelKey: it.LabelKey,
			Active:   isActive(it.Path, currentPath),
		})
	}
	return items
}

func isActive(itemPath, currentPath string) bool {
	if itemPath == "/" {
		return currentPath == "/"
	}
	return currentPath == itemPath || strings.HasPrefix(currentPath, itemPath+"/")
}

// Breadcrumbs starts at home and adds one crumb per path segment.
func Breadcrumbs(currentPath string) []Crumb {
	if currentPath == "" {
		currentPath = "/"
	}
	crumbs := []Crumb{{Href: "/", LabelKey: "nav.home", Active: currentPath == "/"}}
	if currentPath == "/" {
		return crumbs
	}
	clean := path.Clean(currentPath)
	parts := strings.Split(strings.Trim(clean, "/"), "/")
	href := ""
	for i, part := range parts {
		if part == "" {
			continue
		}
		href += "/" + part
		crumb := Crumb{Href: href, Label: TitleFromSegment(part), Active: i == len(parts)-1}
		if i == 0 {
			crumb.LabelKey = labelKey(href)
		}
		crumbs = append(crumbs, crumb)
	}
	return crumbs
}

func labelKey(top string) string {
	for _, it := range Main {
		if it.Path == top {
			return it.LabelKey
		}
	}
	return sectionKeys[top]
}

var titler = cases.Title(language.Und)

// TitleFromSegment turns a slug into a label: "rain-jacket" becomes "Rain Jacket".
func TitleFromSegment(seg string) string {
	s := strings.NewReplacer("-", " ", "_", " ").Replace(seg)
	return titler.String(s)
}
