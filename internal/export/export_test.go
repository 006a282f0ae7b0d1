package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderBoardHTML(t *testing.T) {
	html, err := RenderBoardHTML(TemplateData{
		Title:      "Sprint Retro",
		IsPublic:   true,
		ExportedAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Notes: []TemplateNote{
			{Content: "Ship it", Color: "COOL", PositionX: 120, PositionY: 80, UpvoteCount: 3},
			{Content: "More coffee", Color: "YELLOW", PositionX: 400.7, PositionY: 215.2},
		},
	})
	if err != nil {
		t.Fatalf("RenderBoardHTML failed: %v", err)
	}

	for _, want := range []string{
		"Sprint Retro",
		"Public board",
		"Ship it",
		"More coffee",
		"#bfdbfe",             // COOL background
		"left: 120px",         // positions are rounded
		"left: 401px",
		"&#9650; 3",           // upvote badge
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered HTML to contain %q", want)
		}
	}
}

func TestRenderBoardHTMLEscapesContent(t *testing.T) {
	html, err := RenderBoardHTML(TemplateData{
		Title: "XSS",
		Notes: []TemplateNote{
			{Content: "<script>alert(1)</script>", Color: "FRESH"},
		},
	})
	if err != nil {
		t.Fatalf("RenderBoardHTML failed: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("note content was not escaped")
	}
}

func TestRenderBoardHTMLUnknownColorFallsBack(t *testing.T) {
	html, err := RenderBoardHTML(TemplateData{
		Title: "Colors",
		Notes: []TemplateNote{{Content: "mystery", Color: "CHARTREUSE"}},
	})
	if err != nil {
		t.Fatalf("RenderBoardHTML failed: %v", err)
	}
	if !strings.Contains(html, noteColors["YELLOW"]) {
		t.Error("expected unknown color to fall back to yellow")
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "unreserved untouched", input: "abc-XYZ_0.9~", expected: "abc-XYZ_0.9~"},
		{name: "space is %20 not plus", input: "a b", expected: "a%20b"},
		{name: "html chars", input: "<p>", expected: "%3Cp%3E"},
		{name: "multibyte", input: "é", expected: "%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Sprint Retro", "Sprint-Retro"},
		{"weird/../../path", "weirdpath"},
		{"", "board"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
