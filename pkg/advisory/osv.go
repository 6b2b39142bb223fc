package advisory

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cratestatus/pkg/integrations/osv"
	"github.com/matzehuels/cratestatus/pkg/semver"
)

// OSVSource loads advisories from the OSV crates.io archive.
type OSVSource struct {
	client *osv.Client
	logger *log.Logger
}

// NewOSVSource returns a source reading through client.
func NewOSVSource(client *osv.Client, logger *log.Logger) *OSVSource {
	if logger == nil {
		logger = log.Default()
	}
	return &OSVSource{client: client, logger: logger}
}

// Load implements Source. Every refresh downloads the archive again.
func (o *OSVSource) Load(ctx context.Context) ([]Advisory, error) {
	entries, err := o.client.FetchAll(ctx, true)
	if err != nil {
		return nil, err
	}
	var out []Advisory
	for _, e := range entries {
		advs, err := FromOSV(e)
		if err != nil {
			o.logger.Debug("skipping osv record", "id", e.ID, "err", err)
			continue
		}
		out = append(out, advs...)
	}
	return out, nil
}

// FromOSV converts an OSV record into one Advisory per affected crates.io
// package. Withdrawn records and informational packages yield nothing.
//
// Each range's introduced/fixed events become one vulnerable requirement:
// introduced "0" with fixed "1.2.3" is "<1.2.3"; an open range with
// last_affected uses "<=". Explicit version lists are used only when a
// package has no ranges.
func FromOSV(e osv.Entry) ([]Advisory, error) {
	if e.Withdrawn != nil {
		return nil, nil
	}
	var out []Advisory
	for _, aff := range e.Affected {
		if !strings.EqualFold(aff.Package.Ecosystem, "crates.io") || aff.DatabaseSpecific.Informational != "" {
			continue
		}
		a := Advisory{
			ID:          e.ID,
			Crate:       aff.Package.Name,
			Title:       e.Summary,
			Description: strings.TrimSpace(e.Details),
			Date:        e.Published,
			Aliases:     e.Aliases,
			URL:         e.Link(),
			Severity:    e.DatabaseSpecific.Severity,
		}
		if a.Severity == "" && len(e.Severity) > 0 {
			a.Severity = e.Severity[0].Score
		}
		if a.Title == "" {
			a.Title, _, _ = strings.Cut(a.Description, "\n")
		}
		if a.URL == "" && strings.HasPrefix(a.ID, "RUSTSEC-") {
			a.URL = "https://rustsec.org/advisories/" + a.ID + ".html"
		}

		for _, r := range aff.Ranges {
			reqs, err := rangeRequirements(r.Events)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.ID, err)
			}
			a.Vulnerable = append(a.Vulnerable, reqs...)
		}
		if len(aff.Ranges) == 0 {
			for _, v := range aff.Versions {
				r, err := semver.ParseRequirement("=" + v)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", e.ID, err)
				}
				a.Vulnerable = append(a.Vulnerable, r)
			}
		}
		if len(a.Vulnerable) == 0 {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func rangeRequirements(events []osv.Event) ([]semver.Requirement, error) {
	var (
		out   []semver.Requirement
		lower string
		open  bool
	)
	emit := func(upper string) error {
		var parts []string
		if lower != "" && lower != "0" {
			parts = append(parts, ">="+lower)
		}
		if upper != "" {
			parts = append(parts, upper)
		}
		if len(parts) == 0 {
			parts = append(parts, ">=0.0.0")
		}
		r, err := semver.ParseRequirement(strings.Join(parts, ", "))
		if err != nil {
			return err
		}
		out = append(out, r)
		open = false
		return nil
	}
	for _, ev := range events {
		var err error
		switch {
		case ev.Introduced != "":
			lower, open = ev.Introduced, true
		case ev.Fixed != "" && open:
			err = emit("<" + ev.Fixed)
		case ev.LastAffected != "" && open:
			err = emit("<=" + ev.LastAffected)
		case ev.Limit != "" && open:
			err = emit("<" + ev.Limit)
		}
		if err != nil {
			return nil, err
		}
	}
	if open {
		if err := emit(""); err != nil {
			return nil, err
		}
	}
	return out, nil
}
