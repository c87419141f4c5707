package tagger

import (
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testTagRecord() *TagRecord {
	return repairTagRecord(&TagRecord{
		Title:                    "Sunset <Over> \"Sea\"",
		Description:              "Warm & golden light",
		Comment:                  "Light fades gently.",
		MainGenre:                "Landscape",
		SecondaryGenre:           "Seascape",
		ContentKeywords:          []string{"sea", "sunset"},
		TechnicalCharacteristics: []string{"warm tones"},
	}, LangEnglish)
}

func TestPNGTextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writeTestImage(t, path, 20, 20)
	rec := testTagRecord()

	if err := setPNGText(path, pngTextChunks(rec)); err != nil {
		t.Fatalf("setPNGText: %v", err)
	}

	got, err := readPNGText(path)
	if err != nil {
		t.Fatalf("readPNGText: %v", err)
	}
	if got["Title"] != rec.Title {
		t.Errorf("Title = %q, want %q", got["Title"], rec.Title)
	}
	if got["Description"] != rec.Description {
		t.Errorf("Description = %q", got["Description"])
	}
	if got["Keywords"] != strings.Join(rec.Keywords, ", ") {
		t.Errorf("Keywords = %q", got["Keywords"])
	}
	if !strings.Contains(got[xmpKeyword], "adobe:ns:meta/") {
		t.Errorf("XMP packet missing: %q", got[xmpKeyword])
	}

	// the tagged file must still decode
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("tagged PNG no longer decodes: %v", err)
	}
}

func TestPNGTextIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writeTestImage(t, path, 20, 20)
	rec := testTagRecord()

	if err := setPNGText(path, pngTextChunks(rec)); err != nil {
		t.Fatal(err)
	}
	first, err := readPNGText(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := setPNGText(path, pngTextChunks(rec)); err != nil {
		t.Fatal(err)
	}
	second, err := readPNGText(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk set changed on rewrite: %d -> %d", len(first), len(second))
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("%s changed: %q -> %q", k, v, second[k])
		}
	}
}

func TestSetPNGTextRejectsNonPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	if err := os.WriteFile(path, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := setPNGText(path, pngTextChunks(testTagRecord())); err == nil {
		t.Error("expected an error for a non-PNG payload")
	}
}

func TestXMPPacketEscapesValues(t *testing.T) {
	packet := xmpPacket(testTagRecord())
	for _, bad := range []string{"<Over>", "\"Sea\"", "& golden"} {
		if strings.Contains(packet, bad) {
			t.Errorf("packet contains unescaped %q", bad)
		}
	}
	if !strings.Contains(packet, "&lt;Over&gt;") {
		t.Errorf("title not escaped: %s", packet)
	}
}
