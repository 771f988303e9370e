package web

import "github.com/sweeney/lamp-panel/internal/lamp"

// action is what a request path asks for.
type action int

const (
	actionRender action = iota
	actionToggle
	actionNoFavicon
)

type route struct {
	action  action
	channel lamp.Channel
}

// routes is the complete lamp-page routing table, matched by exact path.
// Paths not listed here fall through to http.NotFound.
var routes = buildRoutes()

func buildRoutes() map[string]route {
	table := map[string]route{
		"/":            {action: actionRender},
		"/favicon.ico": {action: actionNoFavicon},
	}
	for _, c := range lamp.Channels {
		table[TogglePath(c)] = route{action: actionToggle, channel: c}
	}
	return table
}

// TogglePath is the URL that toggles c, e.g. "/green/toggle".
func TogglePath(c lamp.Channel) string {
	return "/" + c.Slug() + "/toggle"
}

func lookup(path string) (route, bool) {
	r, ok := routes[path]
	return r, ok
}
