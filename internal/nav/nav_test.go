package nav

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMarksActive(t *testing.T) {
	items := Build("/search")
	require.Len(t, items, len(Main))
	require.True(t, items[0].Active)
	require.False(t, items[1].Active)

	items = Build("/my-pages/addresses")
	require.True(t, items[3].Active)

	for _, it := range Build("/searching") {
		require.False(t, it.Active, it.Href)
	}
}

func TestBreadcrumbs(t *testing.T) {
	require.Equal(t, []Crumb{{Href: "/", LabelKey: "nav.home", Active: true}}, Breadcrumbs(""))

	crumbs := Breadcrumbs("/article/spring-care-guide")
	require.Len(t, crumbs, 3)
	require.Equal(t, "nav.articles", crumbs[1].LabelKey)
	require.Equal(t, "/article/spring-care-guide", crumbs[2].Href)
	require.Equal(t, "Spring Care Guide", crumbs[2].Label)
	require.True(t, crumbs[2].Active)
	require.False(t, crumbs[1].Active)
}
