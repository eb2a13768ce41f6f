package manager

import (
	"fmt"
)

// FailureKind is the structured replacement for the string-typed download
// errors surfaced to users. Every download failure is one of these.
type FailureKind int

const (
	// FailureDownload is the generic kind: all retry attempts were
	// exhausted without a more specific classification.
	FailureDownload FailureKind = iota
	// FailureRequiresWiFi means the download was attempted on a connection
	// class the upstream fetcher refuses to use.
	FailureRequiresWiFi
	FailureNetworkUnavailable
	FailureUnsupportedModel
	FailureModelNotFound
	FailureConfiguration
)

func (k FailureKind) String() string {
	switch k {
	case FailureRequiresWiFi:
		return "a Wi-Fi connection is required to download this model"
	case FailureNetworkUnavailable:
		return "no network connection"
	case FailureUnsupportedModel:
		return "this model is not supported on this device"
	case FailureModelNotFound:
		return "model not found"
	case FailureConfiguration:
		return "invalid model configuration"
	default:
		return "download failed"
	}
}

// DownloadError is the terminal outcome of a failed download. Detail carries
// the human-readable description of the underlying failure.
type DownloadError struct {
	Kind   FailureKind
	Model  string
	Detail string
}

func (e *DownloadError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Model, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Model, e.Kind, e.Detail)
}
