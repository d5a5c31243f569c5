package config

import (
	"strconv"
	"strings"
)

// Resolve expands the four archive templates for one group, substituting
// {name} and {id} the way spec.md §6 describes (e.g. repo_path
// "/srv/debile/{name}" resolves to "/srv/debile/main" for a group named
// "main" with id 3). Resolve does not consult Archive.Resolver: it expands
// the templates as they are, so with a named resolver and empty templates
// every result is empty.
func (a Archive) Resolve(name string, id int64) (repoPath, repoURL, filesPath, filesURL string) {
	replacer := strings.NewReplacer("{name}", name, "{id}", strconv.FormatInt(id, 10))
	return replacer.Replace(a.RepoPathTemplate),
		replacer.Replace(a.RepoURLTemplate),
		replacer.Replace(a.FilesPathTemplate),
		replacer.Replace(a.FilesURLTemplate)
}
