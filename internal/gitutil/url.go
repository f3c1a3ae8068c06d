package gitutil

import (
	"regexp"
	"strings"
)

// The repository name can contain ASCII letters, digits, and the
// characters ., -, and _.
var (
	// git@host.xz:path/to/repo.git
	scpURLRgx = regexp.MustCompile(`^(?P<user>[\w\-\.]+)@(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?):(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+?)(\.git)?$`)

	// ssh://[user@]host.xz[:port]/path/to/repo.git
	sshURLRgx = regexp.MustCompile(`^ssh://((?P<user>[\w\-\.]+)@)?(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+?)(\.git)?$`)

	// http(s)://[creds@]host.xz[:port]/path/to/repo.git
	httpURLRgx = regexp.MustCompile(`^https?://((?P<creds>[^@/]+)@)?(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+?)(\.git)?$`)

	// git://host.xz/path/to/repo.git
	gitURLRgx = regexp.MustCompile(`^git://(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+?)(\.git)?$`)
)

// NormalizeGitURL reduces the scp, ssh, http(s) and git URL forms of a remote
// to "host/owner/name": the trailing .git and any credential segment are
// dropped, the path keeps its slashes. file:// URLs and anything unparseable
// return ok=false.
func NormalizeGitURL(rawURL string) (string, bool) {
	raw := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if raw == "" || strings.HasPrefix(strings.ToLower(raw), "file://") {
		return "", false
	}

	for _, rgx := range []*regexp.Regexp{scpURLRgx, sshURLRgx, httpURLRgx, gitURLRgx} {
		sections := rgx.FindStringSubmatch(raw)
		if sections == nil {
			continue
		}
		host := strings.ToLower(sections[rgx.SubexpIndex("host")])
		path := strings.Trim(sections[rgx.SubexpIndex("path")], "/")
		repo := sections[rgx.SubexpIndex("repo")]

		if host == "" || path == "" || repo == "" {
			return "", false
		}
		return host + "/" + path + "/" + repo, true
	}
	return "", false
}
