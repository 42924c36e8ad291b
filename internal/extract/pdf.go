package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFStrategies returns the PDF chain: row-grouped page text, then the whole-document plain stream.
func PDFStrategies() []Strategy {
	return []Strategy{
		{Name: "pdf-rows", Func: extractPDFRows},
		{Name: "pdf-plain", Func: extractPDFPlain},
	}
}

func openPDF(content []byte) (*pdf.Reader, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	return r, nil
}

// extractPDFRows groups each page's text by baseline so table rows and headings keep their lines.
func extractPDFRows(content []byte) (string, error) {
	r, err := openPDF(content)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			if s := strings.TrimSpace(line.String()); s != "" {
				b.WriteString(s)
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func extractPDFPlain(content []byte) (string, error) {
	r, err := openPDF(content)
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("plain text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read plain text: %w", err)
	}
	return buf.String(), nil
}
