package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// maxEntrySize caps the decompressed size of a single zip entry.
const maxEntrySize = 100 << 20

var errEntryTooLarge = errors.New("zip entry exceeds size limit")

func openZip(data []byte) (*zip.Reader, error) {
	if len(data) == 0 {
		return nil, errors.New("empty archive")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return zr, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%s: %w", f.Name, errEntryTooLarge)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// The header size can lie; enforce the limit on the stream too.
	b, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxEntrySize {
		return nil, fmt.Errorf("%s: %w", f.Name, errEntryTooLarge)
	}
	return b, nil
}

// paragraphs streams an OOXML part and returns the text of each paragraph
// (<w:p> in WordprocessingML, <a:p> in DrawingML). Text comes from <t>
// runs; tabs and breaks are kept.
func paragraphs(part []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(part))

	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out = append(out, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out, nil
}

// extractDOCX returns word/document.xml paragraphs joined with "\n".
func extractDOCX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		part, err := readEntry(f)
		if err != nil {
			return "", err
		}
		paras, err := paragraphs(part)
		if err != nil {
			return "", err
		}
		return strings.Join(paras, "\n"), nil
	}
	return "", errors.New("missing word/document.xml")
}

// extractPPTX returns the non-empty paragraph text of every slide, in slide
// order, joined with "\n".
func extractPPTX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if n, ok := slideNumber(f.Name); ok {
			slides = append(slides, slide{n: n, f: f})
		}
	}
	if len(slides) == 0 {
		return "", errors.New("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var lines []string
	for _, s := range slides {
		part, err := readEntry(s.f)
		if err != nil {
			return "", err
		}
		paras, err := paragraphs(part)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.n, err)
		}
		for _, p := range paras {
			if strings.TrimSpace(p) != "" {
				lines = append(lines, p)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// slideNumber parses "ppt/slides/slide12.xml" into 12.
func slideNumber(name string) (int, bool) {
	const prefix, suffix = "ppt/slides/slide", ".xml"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil {
		return 0, false
	}
	return n, true
}
