package git

import (
	"path"
	"time"
)

// CommitInfo describes a commit.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Branch    string    `json:"branch"`
}

// ShortSHA returns the first eight characters of the commit hash.
func (c *CommitInfo) ShortSHA() string {
	return shortSHA(c.SHA)
}

// PullResult is the outcome of a pull.
type PullResult struct {
	FromSHA      string
	ToSHA        string
	ChangedFiles []string
	HadChanges   bool
}

// Touches reports whether the pull changed file, a slash-separated path
// relative to the repository root.
func (p *PullResult) Touches(file string) bool {
	file = path.Clean(file)
	for _, f := range p.ChangedFiles {
		if path.Clean(f) == file {
			return true
		}
	}
	return false
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
