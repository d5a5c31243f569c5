package changes

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Changes is a parsed and (optionally) signature-verified .changes upload.
type Changes struct {
	control  *ControlFile
	Filename string
	Dir      string

	SignerFingerprint string
}

// Parse parses raw upload bytes as a .changes control file. It does not
// verify the signature; call ParseSigned for that.
func Parse(path string, data []byte) (*Changes, error) {
	c, err := ParseControlFile(data)
	if err != nil {
		return nil, err
	}
	return &Changes{control: c, Filename: filepath.Base(path), Dir: filepath.Dir(path)}, nil
}

// Source is the "Source:" field.
func (c *Changes) Source() string { v, _ := c.control.Get("Source"); return v }

// Version is the "Version:" field.
func (c *Changes) Version() string { v, _ := c.control.Get("Version"); return v }

// Distribution is the "Distribution:" field (the target suite).
func (c *Changes) Distribution() string { v, _ := c.control.Get("Distribution"); return v }

// Architectures splits the "Architecture:" field into its listed tokens
// (e.g. "amd64 source" for a sourceful upload targeting one binary arch).
func (c *Changes) Architectures() []string {
	v, _ := c.control.Get("Architecture")
	return strings.Fields(v)
}

// Binaries splits the "Binary:" field into package names, empty for a
// source-only (no binary packages) upload.
func (c *Changes) Binaries() []string {
	v, _ := c.control.Get("Binary")
	return strings.Fields(v)
}

// Maintainer is the "Maintainer:" field, "Name <email>".
func (c *Changes) Maintainer() string { v, _ := c.control.Get("Maintainer"); return v }

// Files returns the referenced file entries from the "Files" field
// (md5-keyed legacy form, present on every .changes).
func (c *Changes) Files() []FileEntry { return c.control.Files("Files") }

// ChecksumsSha256 returns the referenced file entries' SHA-256 checksums,
// when the upload carries the modern Checksums-Sha256 field.
func (c *Changes) ChecksumsSha256() []FileEntry { return c.control.Files("Checksums-Sha256") }

// ChecksumsSha1 returns the referenced file entries' SHA-1 checksums.
func (c *Changes) ChecksumsSha1() []FileEntry { return c.control.Files("Checksums-Sha1") }

// Get exposes an arbitrary control-file field, for headers like
// X-Debile-Group and X-Debile-Job that have no dedicated accessor.
func (c *Changes) Get(key string) (string, bool) { return c.control.Get(key) }

// FilePaths returns the absolute paths (relative to the .changes file's own
// directory) of every file it references.
func (c *Changes) FilePaths() []string {
	var out []string
	for _, f := range c.Files() {
		out = append(out, filepath.Join(c.Dir, f.Name))
	}
	return out
}

// DscFilename returns the referenced .dsc file's name, or "" if this
// upload has none (a binary-only upload).
func (c *Changes) DscFilename() (string, error) {
	var found string
	for _, f := range c.Files() {
		if strings.HasSuffix(f.Name, ".dsc") {
			if found != "" {
				return "", fmt.Errorf("changes: more than one .dsc referenced")
			}
			found = f.Name
		}
	}
	return found, nil
}

// DebFilenames returns the referenced .deb/.udeb file names.
func (c *Changes) DebFilenames() []string {
	var out []string
	for _, f := range c.Files() {
		if strings.HasSuffix(f.Name, ".deb") || strings.HasSuffix(f.Name, ".udeb") {
			out = append(out, f.Name)
		}
	}
	return out
}
