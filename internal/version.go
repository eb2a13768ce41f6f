package internal

import "fmt"

var (
	Version = ""
	Commit  = ""
)

func PrintableVersion() string {
	return fmt.Sprintf("pocketlm %s (%s)", Version, Commit)
}
