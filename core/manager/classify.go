package manager

import (
	"strings"
)

// The fetch boundary is opaque: upstream failures arrive as rendered error
// strings, not types. classify is the single place where that wording is
// mapped onto a failure kind. Patterns are checked in order, first match
// wins; a wording change upstream makes the failure fall through to the
// generic retryable path.
var classifications = []struct {
	kind    FailureKind
	needles []string
}{
	{FailureRequiresWiFi, []string{"offline mode"}},
	{FailureUnsupportedModel, []string{"unsupported model", "model type is not supported"}},
	{FailureModelNotFound, []string{"missing config", "not found", "404"}},
	{FailureConfiguration, []string{"configuration", "invalid"}},
}

// classify returns the terminal kind for err, or false if the failure is not
// recognized and should be retried.
func classify(err error) (FailureKind, bool) {
	text := strings.ToLower(err.Error())
	for _, c := range classifications {
		for _, needle := range c.needles {
			if strings.Contains(text, needle) {
				return c.kind, true
			}
		}
	}
	return FailureDownload, false
}
