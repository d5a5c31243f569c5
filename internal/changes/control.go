// Package changes parses Debian-style deb822 control files (.changes
// uploads) and verifies their clearsigned OpenPGP signature. Grounded on
// original_source/debile/master/dud.py's Changes/Dud wrapper around
// python-debian's deb822, reimplemented as a small hand-written RFC822-ish
// scanner (the pack carries no deb822 parsing library) plus
// ProtonMail/go-crypto/openpgp/clearsign for the signature half, in place
// of shelling out to gpg --verify.
package changes

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// ControlFile is one parsed deb822 stanza: an ordered set of fields, each
// either a single-line value or a multi-line "Name:\n <row>\n <row>" block.
type ControlFile struct {
	order  []string
	single map[string]string
	multi  map[string][]string
}

// Get returns a single-line field's value.
func (c *ControlFile) Get(key string) (string, bool) {
	v, ok := c.single[key]
	return v, ok
}

// MultiLines returns a multi-line field's continuation rows, each trimmed
// of surrounding whitespace but not split (e.g. a "Files" row is the single
// string "<md5> <size> <name>").
func (c *ControlFile) MultiLines(key string) []string {
	return c.multi[key]
}

// Has reports whether key appears at all, single- or multi-line.
func (c *ControlFile) Has(key string) bool {
	if _, ok := c.single[key]; ok {
		return true
	}
	_, ok := c.multi[key]
	return ok
}

// ParseControlFile parses a single deb822 stanza. Trailing stanzas beyond
// the first blank line are ignored: every caller here (.changes, .dud) only
// ever has one stanza per file.
func ParseControlFile(data []byte) (*ControlFile, error) {
	c := &ControlFile{single: map[string]string{}, multi: map[string][]string{}}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var curKey string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if len(c.order) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if curKey == "" {
				return nil, fmt.Errorf("changes: continuation line with no preceding field: %q", line)
			}
			row := strings.TrimSpace(line)
			if row != "." {
				c.multi[curKey] = append(c.multi[curKey], row)
			}
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("changes: malformed control line: %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		curKey = key
		c.order = append(c.order, key)
		if value == "" {
			c.multi[key] = nil
		} else {
			c.single[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("changes: scan control file: %w", err)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("changes: control file could not be parsed")
	}
	return c, nil
}

// FileEntry is one row of a Files/Checksums-* field. Section and Priority
// are only populated from the legacy 5-field "Files" row
// ("<md5> <size> <section> <priority> <name>"); the Checksums-* tables carry
// just checksum/size/name.
type FileEntry struct {
	Checksum string
	Size     string
	Section  string
	Priority string
	Name     string
}

// Files parses a multi-line field as "<checksum> <size> <name>" rows; the
// 5-field legacy "Files" form ("<md5> <size> <section> <priority> <name>")
// is also accepted, the name always being the last token.
func (c *ControlFile) Files(key string) []FileEntry {
	var out []FileEntry
	for _, row := range c.multi[key] {
		fields := strings.Fields(row)
		if len(fields) < 3 {
			continue
		}
		e := FileEntry{
			Checksum: fields[0],
			Size:     fields[1],
			Name:     fields[len(fields)-1],
		}
		if len(fields) >= 5 {
			e.Section = fields[2]
			e.Priority = fields[3]
		}
		out = append(out, e)
	}
	return out
}
