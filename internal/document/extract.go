// Package document extracts plain text from uploaded meeting documents.
//
// Supported formats are docx (the OOXML document body), pdf, and plain
// text/markdown. Extraction is lossy on purpose: layout, styling, and
// embedded objects are dropped, only the readable text survives. The result
// feeds the same minute-generation path as a transcript.
package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/minutekit/minutekit/pkg/meeting"
)

// SupportedExtensions lists the file extensions Extract understands.
func SupportedExtensions() []string {
	return []string{".docx", ".pdf", ".txt", ".md"}
}

// Supported reports whether the file name has an extractable extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}

// Extract returns the plain text of the document at path, dispatching on the
// file extension. Unknown extensions are reported as UNSUPPORTED_FORMAT and
// documents with no readable text as BAD_INPUT.
func Extract(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		text, err = extractDocx(path)
	case ".pdf":
		text, err = extractPDF(path)
	case ".txt", ".md":
		text, err = extractText(path)
	default:
		return "", meeting.Faultf(meeting.KindUnsupportedFormat,
			"document: unsupported extension %q (supported: %s)",
			filepath.Ext(path), strings.Join(SupportedExtensions(), ", "))
	}
	if err != nil {
		return "", err
	}
	text = collapseBlankLines(strings.TrimSpace(text))
	if text == "" {
		return "", meeting.Faultf(meeting.KindBadInput,
			"document: %s contains no readable text", filepath.Base(path))
	}
	return text, nil
}

// collapseBlankLines reduces runs of three or more newlines to two.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// extractDocx walks the OOXML document body and collects text runs.
// Paragraphs become newlines, explicit breaks and tabs are preserved.
func extractDocx(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", meeting.Wrap(meeting.KindUnsupportedFormat,
			fmt.Errorf("document: open docx %s: %w", filepath.Base(path), err))
	}
	defer archive.Close()

	var body io.ReadCloser
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("document: open document.xml: %w", err)
			}
			break
		}
	}
	if body == nil {
		return "", meeting.Faultf(meeting.KindUnsupportedFormat,
			"document: %s has no word/document.xml; not a docx file", filepath.Base(path))
	}
	defer body.Close()

	var (
		out     strings.Builder
		cell    strings.Builder
		inCell  bool
		rowCols []string
	)
	dec := xml.NewDecoder(body)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", meeting.Wrap(meeting.KindUnsupportedFormat,
				fmt.Errorf("document: parse document.xml: %w", err))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var run string
				if err := dec.DecodeElement(&run, &t); err != nil {
					return "", meeting.Wrap(meeting.KindUnsupportedFormat,
						fmt.Errorf("document: decode text run: %w", err))
				}
				if inCell {
					cell.WriteString(run)
				} else {
					out.WriteString(run)
				}
			case "tab":
				if inCell {
					cell.WriteByte('\t')
				} else {
					out.WriteByte('\t')
				}
			case "br":
				if inCell {
					cell.WriteByte('\n')
				} else {
					out.WriteByte('\n')
				}
			case "tr":
				rowCols = rowCols[:0]
			case "tc":
				inCell = true
				cell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inCell {
					cell.WriteByte(' ')
				} else {
					out.WriteByte('\n')
				}
			case "tc":
				rowCols = append(rowCols, strings.TrimSpace(cell.String()))
				inCell = false
			case "tr":
				// Cells on one row are joined with " | ".
				out.WriteString(strings.Join(rowCols, " | "))
				out.WriteByte('\n')
			}
		}
	}
	return out.String(), nil
}

// extractPDF concatenates the plain text of every page.
func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", meeting.Wrap(meeting.KindUnsupportedFormat,
			fmt.Errorf("document: open pdf %s: %w", filepath.Base(path), err))
	}
	defer f.Close()

	body, err := reader.GetPlainText()
	if err != nil {
		return "", meeting.Wrap(meeting.KindUnsupportedFormat,
			fmt.Errorf("document: read pdf text: %w", err))
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", meeting.Wrap(meeting.KindUnsupportedFormat,
			fmt.Errorf("document: read pdf text: %w", err))
	}
	return buf.String(), nil
}

// extractText reads the file verbatim, stripping a UTF-8 BOM if present.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("document: read %s: %w", filepath.Base(path), err)
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return string(data), nil
}
