package advisory

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/cratestatus/pkg/semver"
)

// DirSource reads a RustSec advisory-db checkout.
//
// Advisories live under crates/<name>/ as Markdown files whose first block
// is a fenced TOML front matter, with the title as the first heading. The
// older layout, a bare .toml file with title and description inside, is
// read as well. Withdrawn and informational advisories are skipped, and so
// are files that fail to parse; a single bad file does not fail the load.
type DirSource struct {
	Root   string
	Logger *log.Logger
}

// NewDirSource returns a source reading root.
func NewDirSource(root string, logger *log.Logger) *DirSource {
	if logger == nil {
		logger = log.Default()
	}
	return &DirSource{Root: root, Logger: logger}
}

// Load implements Source.
func (d *DirSource) Load(ctx context.Context) ([]Advisory, error) {
	root := d.Root
	if info, err := os.Stat(filepath.Join(root, "crates")); err == nil && info.IsDir() {
		root = filepath.Join(root, "crates")
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("advisory db: %w", err)
	}

	var out []Advisory
	skipped := 0
	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if strings.HasPrefix(e.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return ctx.Err()
		}
		ext := filepath.Ext(path)
		if ext != ".md" && ext != ".toml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		a, ok, err := ParseRustSec(data, ext == ".md")
		if err != nil {
			skipped++
			d.Logger.Warn("skipping advisory", "file", path, "err", err)
			return nil
		}
		if ok {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.Logger.Debug("advisory db loaded", "root", d.Root, "advisories", len(out), "skipped", skipped)
	return out, nil
}

type rustsecFile struct {
	Advisory struct {
		ID            string   `toml:"id"`
		Package       string   `toml:"package"`
		Date          string   `toml:"date"`
		URL           string   `toml:"url"`
		Title         string   `toml:"title"`
		Description   string   `toml:"description"`
		Informational string   `toml:"informational"`
		Withdrawn     string   `toml:"withdrawn"`
		Aliases       []string `toml:"aliases"`
		CVSS          string   `toml:"cvss"`

		PatchedVersions    []string `toml:"patched_versions"`
		UnaffectedVersions []string `toml:"unaffected_versions"`
	} `toml:"advisory"`
	Versions struct {
		Patched    []string `toml:"patched"`
		Unaffected []string `toml:"unaffected"`
	} `toml:"versions"`
}

// ParseRustSec decodes one advisory file. markdown selects the fenced
// front-matter layout. ok is false for advisories that should not be
// served (withdrawn or informational).
func ParseRustSec(data []byte, markdown bool) (a Advisory, ok bool, err error) {
	front, body := data, []byte(nil)
	if markdown {
		front, body, err = splitFrontMatter(data)
		if err != nil {
			return a, false, err
		}
	}

	var f rustsecFile
	if _, err := toml.Decode(string(front), &f); err != nil {
		return a, false, fmt.Errorf("decode front matter: %w", err)
	}
	adv := f.Advisory
	if adv.ID == "" || adv.Package == "" {
		return a, false, fmt.Errorf("advisory without id or package")
	}
	if adv.Withdrawn != "" || adv.Informational != "" {
		return a, false, nil
	}

	a = Advisory{
		ID:          adv.ID,
		Crate:       adv.Package,
		Title:       adv.Title,
		Description: strings.TrimSpace(adv.Description),
		Severity:    adv.CVSS,
		Aliases:     adv.Aliases,
		URL:         adv.URL,
	}
	if a.URL == "" && strings.HasPrefix(a.ID, "RUSTSEC-") {
		a.URL = "https://rustsec.org/advisories/" + a.ID + ".html"
	}
	if adv.Date != "" {
		if t, err := time.Parse("2006-01-02", adv.Date); err == nil {
			a.Date = t
		}
	}
	if markdown {
		a.Title, a.Description = splitTitle(body)
	}

	patched := append(f.Versions.Patched, adv.PatchedVersions...)
	unaffected := append(f.Versions.Unaffected, adv.UnaffectedVersions...)
	if a.Patched, err = parseRanges(patched); err != nil {
		return a, false, err
	}
	if a.Unaffected, err = parseRanges(unaffected); err != nil {
		return a, false, err
	}
	return a, true, nil
}

func splitFrontMatter(data []byte) (front, body []byte, err error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 || !bytes.HasPrefix(data, []byte("```")) {
		return nil, nil, fmt.Errorf("missing front matter fence")
	}
	rest := data[nl+1:]
	end := bytes.Index(rest, []byte("\n```"))
	if end < 0 {
		return nil, nil, fmt.Errorf("unterminated front matter")
	}
	front = rest[:end]
	body = rest[end+4:]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}
	return front, body, nil
}

func splitTitle(body []byte) (title, description string) {
	text := strings.TrimSpace(strings.ReplaceAll(string(body), "\r\n", "\n"))
	first, rest, _ := strings.Cut(text, "\n")
	if strings.HasPrefix(first, "# ") {
		return strings.TrimSpace(first[2:]), strings.TrimSpace(rest)
	}
	return "", text
}

func parseRanges(in []string) ([]semver.Requirement, error) {
	out := make([]semver.Requirement, 0, len(in))
	for _, s := range in {
		r, err := semver.ParseRequirement(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
