// Package roster loads the YAML file that names the herd: which animal wears
// which tag. Importing a roster fills the name mapping used for labels.
package roster

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tagtrack/internal/db"
	"github.com/banshee-data/tagtrack/internal/fsutil"
)

// maxRosterSize bounds roster files read from disk.
const maxRosterSize = 1 << 20

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Roster is the on-disk format:
//
//	tags:
//	  - uid: ea22
//	    name: Bessie
//	    species: cow
//	    color: "#aa3300"
type Roster struct {
	Tags []db.TagName `yaml:"tags"`
}

// Writer stores roster entries. *db.DB implements it.
type Writer interface {
	UpsertTagName(ctx context.Context, n db.TagName) error
}

// Namer updates live display names. *settings.Store implements it.
type Namer interface {
	SetName(ctx context.Context, uid, name string) error
}

// Parse decodes and validates a roster document.
func Parse(data []byte) (*Roster, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Roster
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads a .yaml or .yml roster through fsys.
func Load(fsys fsutil.FileSystem, path string) (*Roster, error) {
	data, err := fsutil.ReadLimited(fsys, path, maxRosterSize, ".yaml", ".yml")
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(data)
}

// Validate checks that every entry has a unique uid and a name, and that
// colours are #rrggbb.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Tags))
	for i, t := range r.Tags {
		uid := strings.TrimSpace(t.UID)
		switch {
		case uid == "":
			return fmt.Errorf("roster entry %d: missing uid", i+1)
		case strings.TrimSpace(t.Name) == "":
			return fmt.Errorf("roster entry %d (%s): missing name", i+1, uid)
		case seen[uid]:
			return fmt.Errorf("roster entry %d: duplicate uid %s", i+1, uid)
		case t.Color != "" && !colorPattern.MatchString(t.Color):
			return fmt.Errorf("roster entry %d (%s): colour %q is not #rrggbb", i+1, uid, t.Color)
		}
		seen[uid] = true
		r.Tags[i].UID = uid
		r.Tags[i].Name = strings.TrimSpace(t.Name)
	}
	return nil
}

// Import writes every entry to w and, when names is not nil, updates the
// live label mapping. It returns the number of entries written.
func (r *Roster) Import(ctx context.Context, w Writer, names Namer) (int, error) {
	for i, t := range r.Tags {
		if err := w.UpsertTagName(ctx, t); err != nil {
			return i, err
		}
		if names != nil {
			if err := names.SetName(ctx, t.UID, t.Name); err != nil {
				return i, err
			}
		}
	}
	return len(r.Tags), nil
}

// Marshal renders r as YAML.
func (r *Roster) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode roster: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
