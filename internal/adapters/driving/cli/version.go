package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the s3logsbeat build",
	Long: `Show the release, source revision and Go toolchain of this binary.
Development builds report the VCS revision they were built from.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		info := readBuild()
		if versionShort {
			cmd.Println(info.release)
			return
		}
		cmd.Println(info.String())
	},
}

// buildInfo describes the running binary.
type buildInfo struct {
	release  string
	revision string
	modified bool
	goVer    string
	platform string
}

func (b buildInfo) String() string {
	s := "s3logsbeat " + b.release
	if b.revision != "" {
		s += " (" + b.revision
		if b.modified {
			s += ", modified"
		}
		s += ")"
	}
	return s + fmt.Sprintf(" %s %s", b.goVer, b.platform)
}

func readBuild() buildInfo {
	info := buildInfo{
		release:  version,
		goVer:    runtime.Version(),
		platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.revision = shortRevision(s.Value)
		case "vcs.modified":
			info.modified = s.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the release only")
	rootCmd.AddCommand(versionCmd)
}
