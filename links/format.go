// Package links recognises URLs rewritten by email-security gateways and
// decodes them back to the destination the sender wrote.
package links

import "regexp"

// Format identifies a link-wrapping scheme.
type Format uint8

const (
	FormatNone Format = iota
	// FormatSafeLinks is the Outlook Safe Links redirector.
	FormatSafeLinks
	FormatURLDefenseV1
	FormatURLDefenseV2
	FormatURLDefenseV3
)

func (f Format) String() string {
	switch f {
	case FormatSafeLinks:
		return "safelinks"
	case FormatURLDefenseV1:
		return "urldefense-v1"
	case FormatURLDefenseV2:
		return "urldefense-v2"
	case FormatURLDefenseV3:
		return "urldefense-v3"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// rest matches the remainder of a wrapped URL. It stops at characters that
// cannot appear in a bare URL so text around the link survives.
const rest = `[^\s<>"]*`

// decoder pairs a recognition pattern with the transform for its capture.
// Group 1 is the optional leading "<", group 2 the capture; any further
// groups are passed to decode as extras.
type decoder struct {
	format  Format
	pattern *regexp.Regexp
	decode  func(capture string, extra []string) (string, error)
}

// registry is evaluated in order; the first format that matches anywhere in
// the input is the only one applied.
var registry = []decoder{
	{
		format:  FormatSafeLinks,
		pattern: regexp.MustCompile(`(?i)(<)?https?://[^.\s/]+(?:\.[^.\s/]+)*\.safelinks\.protection\.[^/\s?]+/\?url=([^&\s]+)&` + rest),
		decode: func(capture string, _ []string) (string, error) {
			return percentDecode(capture)
		},
	},
	{
		format:  FormatURLDefenseV1,
		pattern: regexp.MustCompile(`(?i)(<)?https?://urldefense\.proofpoint\.com/v1/+url\?u=(\S+?)&k=` + rest),
		decode: func(capture string, _ []string) (string, error) {
			return percentDecode(capture)
		},
	},
	{
		format:  FormatURLDefenseV2,
		pattern: regexp.MustCompile(`(?i)(<)?https?://urldefense\.proofpoint\.com/v2/url\?u=(\S+?)&[dc]=` + rest),
		decode: func(capture string, _ []string) (string, error) {
			return unmangle(capture)
		},
	},
	{
		format:  FormatURLDefenseV3,
		pattern: regexp.MustCompile(`(?i)(<)?https?://urldefense\.com/v3/__(\S+?)__;([^!\s<>"]*)` + rest),
		decode: func(capture string, extra []string) (string, error) {
			encoded := ""
			if len(extra) > 0 {
				encoded = extra[0]
			}
			filled, err := fillTokens(capture, encoded)
			if err != nil {
				return "", err
			}
			return unmangle(filled)
		},
	},
}

// Formats lists the recognised formats in priority order.
func Formats() []Format {
	out := make([]Format, 0, len(registry))
	for _, d := range registry {
		out = append(out, d.format)
	}
	return out
}
