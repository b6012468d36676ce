package console

import (
	"fmt"
	"strings"
)

// pageHead is the document shell. The table stays open: the panes fill
// through script blocks streamed while the sessions run.
const pageHead = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <title>Console</title>
    <link
      rel="stylesheet"
      href="https://cdn.jsdelivr.net/npm/bootstrap@4.5.3/dist/css/bootstrap.min.css"
      integrity="sha384-TX8t27EcRE3e/ihU7zmQxVncDAy5uIKz4rEkgIXeMed4M0jlfIDPvg6uqKI2xXr2"
      crossorigin="anonymous"
    />
    <link
      href="https://fonts.googleapis.com/css?family=Source+Code+Pro"
      rel="stylesheet"
    />
    <style>
      * {
        font-family: 'Source Code Pro', monospace;
        font-size: 1rem !important;
      }
      body {
        background-color: #212529;
      }
      pre {
        color: #cccccc;
      }
      b {
        color: #01b468;
      }
    </style>
  </head>
  <body>
    <table class="table table-dark table-bordered">
`

// escaper covers the entity set the page depends on. Notably newlines
// become &NewLine; so multi-line output survives inside the single-quoted
// script string, which html.EscapeString would not give us.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&apos;",
	"<", "&lt;",
	">", "&gt;",
	"\n", "&NewLine;",
	"\r", "",
)

func escapeHTML(s string) string {
	return escaper.Replace(s)
}

// writeDocument emits the CGI header, the page shell and one table
// column per configured target.
func (c *Console) writeDocument(targets []Target) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, "Content-type: text/html\r\n\r\n")
	fmt.Fprint(c.out, pageHead)

	fmt.Fprint(c.out, "<thead><tr>")
	for _, t := range targets {
		fmt.Fprintf(c.out, `<th scope="col">%s:%s</th>`, escapeHTML(t.Host), escapeHTML(t.Port))
	}
	fmt.Fprint(c.out, "</tr></thead>")

	fmt.Fprint(c.out, "<tbody><tr>")
	for _, t := range targets {
		fmt.Fprintf(c.out, `<td><pre id="%s" class="mb-0"></pre></td>`, t.ID)
	}
	fmt.Fprint(c.out, "</tr></tbody>")
}

func (c *Console) writeShell(id, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "<script>document.getElementById('%s').innerHTML += '%s';</script>",
		id, escapeHTML(content))
}

// writeCommand echoes a sent script line, highlighted.
func (c *Console) writeCommand(id, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "<script>document.getElementById('%s').innerHTML += '<b>%s</b>';</script>",
		id, escapeHTML(content))
}
