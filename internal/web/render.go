package web

import (
	"errors"
	"fmt"
	"html/template"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

const pageHTML = `<!DOCTYPE html><html><head><title>Indicator Lamps</title>` +
	`<meta name="viewport" content="width=device-width, initial-scale=1">` +
	`<style>` +
	`body{text-align:center;font-family:monospace;}` +
	`.buttonGreen{background-color:yellowgreen;color:white;padding:16px 40px;font-size:32px;cursor:pointer;margin:10px;}` +
	`.buttonRed{background-color:red;color:white;padding:16px 40px;font-size:32px;cursor:pointer;margin:10px;}` +
	`.status{font-size:20px;}` +
	`</style></head><body><h1>Indicator Lamps</h1>` +
	`<p>Green LED is currently: <span class="status">{{.GreenStatus}}</span></p>` +
	`<p><a href="/green/toggle"><button class="buttonGreen">Green LED ({{.GreenAction}})</button></a></p>` +
	`<p>Red LED is currently: <span class="status">{{.RedStatus}}</span></p>` +
	`<p><a href="/red/toggle"><button class="buttonRed">Red LED ({{.RedAction}})</button></a></p>` +
	`</body></html>`

// pageLimit bounds every rendered page. Each action in pageHTML is longer
// than the widest value it expands to ("OFF"), so the template source length
// is an upper bound on the output. Growing a substitution past its
// placeholder length requires growing this bound too.
const pageLimit = len(pageHTML)

var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

var errPageOverflow = errors.New("web: rendered page exceeds buffer")

// page is a fixed-capacity io.Writer. A write that does not fit fails
// whole, so a page is never silently truncated.
type page struct {
	buf [pageLimit]byte
	n   int
}

func (p *page) Write(b []byte) (int, error) {
	if len(b) > len(p.buf)-p.n {
		return 0, errPageOverflow
	}
	p.n += copy(p.buf[p.n:], b)
	return len(b), nil
}

func (p *page) Bytes() []byte {
	return p.buf[:p.n]
}

type pageData struct {
	GreenStatus lamp.State
	GreenAction lamp.State
	RedStatus   lamp.State
	RedAction   lamp.State
}

// Render produces the lamp page for snap. The button label of each lamp is
// the state it will switch to when pressed, i.e. the opposite of its status.
// Rendering is pure: equal snapshots give byte-identical pages.
func Render(snap lamp.Snapshot) ([]byte, error) {
	data := pageData{
		GreenStatus: snap.State(lamp.Green),
		GreenAction: lamp.StateOf(!snap.Energized(lamp.Green)),
		RedStatus:   snap.State(lamp.Red),
		RedAction:   lamp.StateOf(!snap.Energized(lamp.Red)),
	}

	var p page
	if err := pageTmpl.Execute(&p, data); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	return p.Bytes(), nil
}
