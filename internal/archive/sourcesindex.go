package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// parseSourcesIndex scans a dpkg-style Sources control file (stanzas
// separated by blank lines, "Key: value" fields, a "Files:" field whose
// continuation lines list "<md5> <size> <filename>") for the stanza
// matching name/version, and returns its pool directory and .dsc filename.
//
// distribution is accepted for symmetry with AddChanges/FindDSC's
// signature; the Sources.gz bytes FindDSC hands in are already scoped to
// one distribution/section by the path they were read from, so it is not
// otherwise consulted here.
func parseSourcesIndex(data []byte, distribution, name, version string) (directory, dscFilename string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		curPackage, curVersion, curDirectory string
		curDSC                               string
		inFiles                              bool
	)

	flush := func() (string, string, bool) {
		if curPackage == name && curVersion == version && curDirectory != "" && curDSC != "" {
			return curDirectory, curDSC, true
		}
		return "", "", false
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if dir, dsc, ok := flush(); ok {
				return dir, dsc, nil
			}
			curPackage, curVersion, curDirectory, curDSC, inFiles = "", "", "", "", false
			continue
		}

		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if inFiles {
				fields := strings.Fields(line)
				if len(fields) == 3 && strings.HasSuffix(fields[2], ".dsc") {
					curDSC = fields[2]
				}
			}
			continue
		}

		inFiles = false
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Package":
			curPackage = value
		case "Version":
			curVersion = value
		case "Directory":
			curDirectory = value
		case "Files", "Checksums-Sha256", "Checksums-Sha1":
			inFiles = true
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("archive: scan sources index: %w", err)
	}
	if dir, dsc, ok := flush(); ok {
		return dir, dsc, nil
	}
	return "", "", fmt.Errorf("archive: no Sources stanza for %s/%s in %s", name, version, distribution)
}
