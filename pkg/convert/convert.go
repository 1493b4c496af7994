package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrRendererMissing reports that a required external rendering
// binary is not installed. Distinct from malformed input, which
// fails preflight instead.
var ErrRendererMissing = errors.New("convert: renderer not available")

type Config struct {
	PdftoppmPath    string        // default "pdftoppm"
	LibreOfficePath string        // default "libreoffice", falls back to "soffice"
	DPI             int           // render resolution, default 150
	Timeout         time.Duration // per external command, default 2m
}

// Converter renders documents to per-page PNGs under
// <outDir>/<stem>/page_NNN.png. Poppler rasterizes PDFs; office
// formats go through an intermediate LibreOffice PDF that is removed
// after rendering.
type Converter struct {
	config   Config
	pdftoppm string // resolved binary path, empty when missing
	soffice  string
}

// NewWithConfig creates a new Converter with the given configuration.
// Binary availability is probed here, once; Available serves the
// cached result.
func NewWithConfig(config Config) *Converter {
	if config.PdftoppmPath == "" {
		config.PdftoppmPath = "pdftoppm"
	}
	if config.LibreOfficePath == "" {
		config.LibreOfficePath = "libreoffice"
	}
	if config.DPI == 0 {
		config.DPI = 150
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}

	c := &Converter{config: config}
	if p, err := exec.LookPath(config.PdftoppmPath); err == nil {
		c.pdftoppm = p
	}
	if p, err := exec.LookPath(config.LibreOfficePath); err == nil {
		c.soffice = p
	} else if p, err := exec.LookPath("soffice"); err == nil {
		c.soffice = p
	}

	return c
}

func (c *Converter) Available(path string) error {
	if c.pdftoppm == "" {
		return fmt.Errorf("%w: install poppler-utils (pdftoppm)", ErrRendererMissing)
	}
	if isOffice(path) && c.soffice == "" {
		return fmt.Errorf("%w: install libreoffice", ErrRendererMissing)
	}
	return nil
}

func (c *Converter) Convert(ctx context.Context, docPath, outDir string) error {
	if err := c.Available(docPath); err != nil {
		return err
	}

	pageDir := filepath.Join(outDir, stem(docPath))
	if err := os.MkdirAll(pageDir, 0755); err != nil {
		return fmt.Errorf("convert: create page dir: %w", err)
	}

	pdfPath := docPath
	if isOffice(docPath) {
		converted, err := c.officeToPDF(ctx, docPath, pageDir)
		if err != nil {
			return err
		}
		pdfPath = converted
		defer os.Remove(converted)
	}

	if err := preflight(pdfPath); err != nil {
		return err
	}

	if err := c.renderPDF(ctx, pdfPath, pageDir); err != nil {
		return err
	}

	return renamePages(pageDir)
}

func (c *Converter) officeToPDF(ctx context.Context, docPath, outDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.soffice,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		docPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("convert: libreoffice: %w: %s", err, strings.TrimSpace(string(out)))
	}

	pdfPath := filepath.Join(outDir, stem(docPath)+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("convert: libreoffice produced no pdf for %s", filepath.Base(docPath))
	}

	return pdfPath, nil
}

// preflight validates the PDF before shelling out so malformed input
// fails as bad input, not as a renderer error.
func preflight(pdfPath string) error {
	f, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("convert: open %s: %w", filepath.Base(pdfPath), err)
	}
	defer f.Close()

	pdfCtx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return fmt.Errorf("convert: invalid document %s: %w", filepath.Base(pdfPath), err)
	}
	if pdfCtx.PageCount == 0 {
		return fmt.Errorf("convert: document %s has no pages", filepath.Base(pdfPath))
	}

	return nil
}

func (c *Converter) renderPDF(ctx context.Context, pdfPath, pageDir string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.pdftoppm,
		"-png",
		"-r", strconv.Itoa(c.config.DPI),
		pdfPath,
		filepath.Join(pageDir, "page"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("convert: pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return nil
}

// pdftoppm pads page numbers to the width of the last page, so a
// 9-page document yields page-1.png and a 10-page one page-01.png.
// renamePages normalizes both to the page_NNN.png contract.
var popplerPage = regexp.MustCompile(`^page-(\d+)\.png$`)

func renamePages(pageDir string) error {
	entries, err := os.ReadDir(pageDir)
	if err != nil {
		return fmt.Errorf("convert: list pages: %w", err)
	}

	for _, e := range entries {
		m := popplerPage.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		from := filepath.Join(pageDir, e.Name())
		to := filepath.Join(pageDir, fmt.Sprintf("page_%03d.png", n))
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("convert: rename page: %w", err)
		}
	}

	return nil
}

var pageImage = regexp.MustCompile(`^page_(\d+)\.png$`)

// ListPages returns the rendered page images in numeric page order,
// page_002 before page_010 regardless of digit padding.
func ListPages(pageDir string) ([]string, error) {
	entries, err := os.ReadDir(pageDir)
	if err != nil {
		return nil, err
	}

	type page struct {
		n    int
		path string
	}
	var pages []page

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageImage.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: filepath.Join(pageDir, e.Name())})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}

	return paths, nil
}

func isOffice(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx", ".pptx":
		return true
	}
	return false
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
