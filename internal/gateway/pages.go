package gateway

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"
)

// The unreachable page is the whole user-facing story when the backend has
// no listener: explain the condition, then recover without user action via a
// single deferred full reload. The script is the only behavior on the page;
// everything else is presentation.
const unreachablePage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Unreachable</title>
</head>
<style>
    body {
        margin: 0;
        background-color: #101418;
        color: #e6e6e6;
        font-family: ui-monospace, 'Cascadia Mono', 'Segoe UI Mono', monospace;
    }
    .center {
        display: flex;
        flex-direction: column;
        align-items: center;
        justify-content: center;
        width: 100vw;
        height: 100vh;
        text-align: center;
    }
    h1 {
        margin: 0 0 0.5rem;
        font-weight: 400;
    }
    p {
        color: #9aa4ad;
        max-width: 34rem;
    }
    pre {
        color: #4c5860;
        line-height: 1.1;
    }
    .ver {
        position: absolute;
        right: 0;
        bottom: 0;
        padding: 0.5rem;
        color: #4c5860;
        font-size: 0.8rem;
    }
</style>
<body>
    <div class="center">
        <pre>
   .----.
   |PORT|
   '----'
     ||
    (xx)
        </pre>
        <h1>Hmm... We couldn't reach this {{.AppName}}</h1>
        <p>Make sure your {{.AppName}} is running and listening on port {{.Port}}.
           This page retries automatically.</p>
    </div>
    <span class="ver">gated {{.Version}}</span>
    <script>
        // One-shot deferred reload; the timer dies with the page.
        setTimeout(function () { window.location.reload(); }, {{.DeadlineMS}});
    </script>
</body>
</html>
`

var unreachableTmpl = template.Must(template.New("unreachable").Parse(unreachablePage))

type pageData struct {
	AppName    string
	Port       int
	DeadlineMS int64
	Version    string
}

// serveUnreachable renders the 502 diagnostic page. The no-store headers
// matter: a cached copy would break the reload-retry loop.
func serveUnreachable(w http.ResponseWriter, data pageData) error {
	var buf bytes.Buffer
	if err := unreachableTmpl.Execute(&buf, data); err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Retry-After", strconv.FormatInt(int64(time.Duration(data.DeadlineMS)*time.Millisecond/time.Second), 10))
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusBadGateway)
	_, err := w.Write(buf.Bytes())
	return err
}
