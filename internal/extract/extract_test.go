package extract

import "testing"

func TestFromHTML(t *testing.T) {
	doc := `<!doctype html><html><head>
		<title> PhotoMagic — AI photo editor </title>
		<meta name="description" content="Edit photos with AI.">
	</head><body><p>hello</p></body></html>`

	meta := FromHTML(doc)
	if meta.Title != "PhotoMagic — AI photo editor" {
		t.Errorf("Title = %q", meta.Title)
	}
	if meta.Description != "Edit photos with AI." {
		t.Errorf("Description = %q", meta.Description)
	}
}

func TestFromHTML_OGDescriptionFallback(t *testing.T) {
	doc := `<html><head><meta property="og:description" content="og text"></head></html>`
	if meta := FromHTML(doc); meta.Description != "og text" {
		t.Errorf("Description = %q, want og:description content", meta.Description)
	}
}

func TestFromHTML_Garbage(t *testing.T) {
	// html.Parse is lenient; garbage yields empty metadata, never a panic.
	if meta := FromHTML("<<<%%% not html"); meta.Title != "" {
		t.Errorf("Title = %q, want empty", meta.Title)
	}
}
