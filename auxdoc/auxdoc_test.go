package auxdoc

import (
	"strings"
	"testing"
)

const samplePage = `<!doctype html>
<html><head><title>Quantum Basics</title>
<script>alert('x')</script></head>
<body onload="evil()">
<h1>Quantum Basics</h1>
<p>See <a href="/intro">the intro</a> and
<a href="https://other.example.com/paper">the paper</a>.
<a href="#top">top</a>
<a href="javascript:void(0)">noop</a>
<a href="/intro">the intro again</a></p>
</body></html>`

func TestExtractLinks(t *testing.T) {
	links, err := ExtractLinks(samplePage, "https://example.com/base/")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %+v", links)
	}
	if links[0].URL != "https://example.com/intro" || links[0].Title != "the intro" {
		t.Fatalf("first link = %+v", links[0])
	}
	if links[1].URL != "https://other.example.com/paper" {
		t.Fatalf("second link = %+v", links[1])
	}
}

func TestPageTitle(t *testing.T) {
	if got := PageTitle(samplePage); got != "Quantum Basics" {
		t.Fatalf("title = %q", got)
	}
	if got := PageTitle("<p>no title</p>"); got != "" {
		t.Fatalf("title = %q", got)
	}
}

func TestSanitizeStripsScripts(t *testing.T) {
	p := NewProcessor()
	out := string(p.Sanitize([]byte(samplePage)))
	if strings.Contains(out, "<script") || strings.Contains(out, "onload") {
		t.Fatalf("sanitized output still hot: %s", out)
	}
	if !strings.Contains(out, "Quantum Basics") {
		t.Fatal("sanitizer dropped content")
	}
}

func TestExtractText(t *testing.T) {
	p := NewProcessor()
	text, err := p.ExtractText(samplePage, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Quantum Basics") {
		t.Fatalf("text = %q", text)
	}
	if strings.Contains(text, "alert(") {
		t.Fatalf("script text leaked: %q", text)
	}
}
