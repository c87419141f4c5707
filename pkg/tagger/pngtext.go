package tagger

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"hash/crc32"
	"os"
	"strings"
)

// PNG carries no native XMP/IPTC container, so metadata is embedded as text
// chunks: a hand-built XMP packet in an iTXt chunk under the Adobe keyword,
// plus plain tEXt chunks per field as a human-readable fallback for tools
// that do not parse the packet.

const xmpKeyword = "XML:com.adobe.xmp"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type pngText struct {
	keyword string
	value   string
	intl    bool // iTXt (UTF-8) instead of tEXt
}

// pngTextChunks lays out the chunk set for a TagRecord.
func pngTextChunks(rec *TagRecord) []pngText {
	return []pngText{
		{keyword: xmpKeyword, value: xmpPacket(rec), intl: true},
		{keyword: "Title", value: rec.Title},
		{keyword: "Description", value: rec.Description},
		{keyword: "Keywords", value: strings.Join(rec.Keywords, ", ")},
		{keyword: "Author", value: "imgtagger"},
	}
}

// xmpPacket builds a minimal XMP packet. Every free-text value is
// XML-escaped before insertion.
func xmpPacket(rec *TagRecord) string {
	return fmt.Sprintf(`<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:dc="http://purl.org/dc/elements/1.1/"
    dc:title="%s"
    dc:description="%s"
    dc:subject="%s"/>
 </rdf:RDF>
</x:xmpmeta>`,
		escapeXML(rec.Title),
		escapeXML(rec.Description),
		escapeXML(strings.Join(rec.Keywords, ",")))
}

func escapeXML(s string) string {
	var b bytes.Buffer
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return ""
	}
	return b.String()
}

// setPNGText rewrites a PNG file with the given text chunks inserted after
// IHDR. Existing tEXt/iTXt chunks with matching keywords are dropped first,
// so writing the same record twice leaves the file in the same state.
func setPNGText(path string, texts []pngText) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return fmt.Errorf("%s is not a PNG file", path)
	}

	replaced := map[string]bool{}
	for _, t := range texts {
		replaced[t.keyword] = true
	}

	var out bytes.Buffer
	out.Write(pngSignature)

	rest := data[len(pngSignature):]
	inserted := false
	for len(rest) >= 12 {
		length := binary.BigEndian.Uint32(rest[:4])
		total := 12 + int(length)
		if total > len(rest) {
			return fmt.Errorf("truncated chunk in %s", path)
		}
		ctype := string(rest[4:8])
		chunk := rest[:total]

		keep := true
		if ctype == "tEXt" || ctype == "iTXt" {
			if kw, _, ok := parseTextChunk(ctype, chunk[8:8+length]); ok && replaced[kw] {
				keep = false
			}
		}
		if keep {
			out.Write(chunk)
		}

		if ctype == "IHDR" && !inserted {
			for _, t := range texts {
				writeTextChunk(&out, t)
			}
			inserted = true
		}
		rest = rest[total:]
	}
	if !inserted {
		return fmt.Errorf("no IHDR chunk in %s", path)
	}
	out.Write(rest)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmp, path)
}

// readPNGText returns the keyword/value pairs of all tEXt and iTXt chunks.
func readPNGText(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("%s is not a PNG file", path)
	}

	out := map[string]string{}
	rest := data[len(pngSignature):]
	for len(rest) >= 12 {
		length := binary.BigEndian.Uint32(rest[:4])
		total := 12 + int(length)
		if total > len(rest) {
			break
		}
		ctype := string(rest[4:8])
		if ctype == "tEXt" || ctype == "iTXt" {
			if kw, v, ok := parseTextChunk(ctype, rest[8:8+length]); ok {
				out[kw] = v
			}
		}
		rest = rest[total:]
	}
	return out, nil
}

func parseTextChunk(ctype string, data []byte) (keyword, value string, ok bool) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 {
		return "", "", false
	}
	keyword = string(data[:sep])
	body := data[sep+1:]

	if ctype == "tEXt" {
		return keyword, string(body), true
	}

	// iTXt: compression flag+method, then language tag and translated
	// keyword, both NUL-terminated. Compressed payloads are not produced by
	// this codec and are skipped on read.
	if len(body) < 2 || body[0] != 0 {
		return "", "", false
	}
	body = body[2:]
	for i := 0; i < 2; i++ {
		sep = bytes.IndexByte(body, 0)
		if sep < 0 {
			return "", "", false
		}
		body = body[sep+1:]
	}
	return keyword, string(body), true
}

func writeTextChunk(out *bytes.Buffer, t pngText) {
	var data []byte
	ctype := "tEXt"
	if t.intl {
		ctype = "iTXt"
		data = append(data, t.keyword...)
		data = append(data, 0, 0, 0, 0, 0) // NUL, flags, empty lang + keyword
		data = append(data, t.value...)
	} else {
		data = append(data, t.keyword...)
		data = append(data, 0)
		data = append(data, t.value...)
	}

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], ctype)
	out.Write(hdr[:])
	out.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	var tail [4]byte
	binary.BigEndian.PutUint32(tail[:], crc.Sum32())
	out.Write(tail[:])
}
