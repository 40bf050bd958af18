package parser

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// ErrExtraction is returned when a document cannot be opened or parsed.
var ErrExtraction = errors.New("extraction failed")

var slideNumberRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Parser turns a document on disk into plain text.
type Parser interface {
	ExtractText(filePath string) (string, error)
}

// DocumentParser dispatches on the file extension.
type DocumentParser struct{}

func New() *DocumentParser {
	return &DocumentParser{}
}

// Supported reports whether the extension of filePath has a reader.
func Supported(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".txt", ".md":
		return true
	}
	return false
}

// ExtractText returns the newline-joined text of every page of the document
// that holds at least one non-whitespace character. Pages without text are
// logged and skipped; they are not an error.
func (p *DocumentParser) ExtractText(filePath string) (string, error) {
	pages, err := extractPages(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExtraction, filepath.Base(filePath), err)
	}

	var text []string
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			log.Info().Str("file", filepath.Base(filePath)).Int("page", i+1).Msg("Page has no text, likely image-based. Skipping")
			continue
		}
		text = append(text, page)
	}
	log.Debug().Str("file", filepath.Base(filePath)).Int("pages", len(pages)).Int("with_text", len(text)).Msg("Extracted text")

	return strings.Join(text, "\n"), nil
}

func extractPages(filePath string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm", ".xltx":
		return parseWorkbook(filePath)
	case ".txt":
		return parseText(filePath)
	case ".md":
		return parseMarkdown(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %q", ext)
	}
}

// the pdf reader panics on some malformed inputs
func parsePDF(filePath string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document.xml body
	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "</w:p>") {
		if text := extractTextFromXML(p, "w:t"); strings.TrimSpace(text) != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	// DOCX has no page numbers
	return []string{strings.Join(paragraphs, "\n")}, nil
}

func parsePPTX(filePath string) ([]string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNumberRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, text: extractTextFromXML(string(data), "a:t")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, len(slides))
	for i, s := range slides {
		pages[i] = s.text
	}
	return pages, nil
}

// one page per sheet
func parseXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []string
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return pages, nil
}

// parseWorkbook reads macro-enabled workbooks and templates, which excelize
// opens natively.
func parseWorkbook(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		pages = append(pages, sheetText(sheetName, rows))
	}
	return pages, nil
}

// sheetText renders rows tab separated under a sheet heading. A sheet with no
// non-empty cell renders as "" so it is skipped like a blank page.
func sheetText(name string, rows [][]string) string {
	var text strings.Builder
	var hasValue bool
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				hasValue = true
			}
		}
		text.WriteString(strings.Join(row, "\t"))
		text.WriteString("\n")
	}
	if !hasValue {
		return ""
	}
	return fmt.Sprintf("## Sheet: %s\n%s", name, text.String())
}

func parseText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	// form feeds separate pages in plain text exports
	return strings.Split(string(data), "\f"), nil
}

// extractTextFromXML concatenates the character data of every <tag> element.
func extractTextFromXML(xmlContent, tag string) string {
	var text strings.Builder
	open, closing := "<"+tag, "</"+tag+">"
	for rest := xmlContent; ; {
		start := strings.Index(rest, open)
		if start < 0 {
			break
		}
		rest = rest[start+len(open):]
		// skip "<w:tab/>" style siblings sharing the prefix
		if rest == "" || (rest[0] != '>' && rest[0] != ' ') {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		if gt > 0 && rest[gt-1] == '/' {
			rest = rest[gt+1:]
			continue
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closing)
		if end < 0 {
			break
		}
		if text.Len() > 0 && tag == "a:t" {
			text.WriteString(" ")
		}
		text.WriteString(unescapeXML(rest[:end]))
		rest = rest[end+len(closing):]
	}
	return text.String()
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}
