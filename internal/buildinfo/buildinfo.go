// Package buildinfo exposes the codebook version stamped in at link time.
package buildinfo

import "strings"

// Name is the program name reported to clients.
const Name = "codebook"

// Set with -ldflags "-X github.com/euforicio/codebook/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// CurrentVersion returns Version, or "dev" when it was stamped empty.
func CurrentVersion() string {
	if strings.TrimSpace(Version) == "" {
		return "dev"
	}
	return Version
}

// Summary renders "version (commit date)" leaving out unknown parts.
func Summary() string {
	var meta []string
	if Commit != "" {
		meta = append(meta, Commit)
	}
	if Date != "" {
		meta = append(meta, Date)
	}
	if len(meta) == 0 {
		return CurrentVersion()
	}
	return CurrentVersion() + " (" + strings.Join(meta, " ") + ")"
}
