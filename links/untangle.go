package links

import (
	"log/slog"
	"strings"
	"time"
)

// Untangler rewrites wrapped links back to their destinations. It holds no
// matching state, so one value may be shared across goroutines.
type Untangler struct {
	logger   *slog.Logger
	recorder *Recorder
	clock    func() time.Time
}

// Option configures an Untangler.
type Option func(*Untangler)

// WithLogger sets the logger decode failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(u *Untangler) { u.logger = l }
}

// WithRecorder keeps decode failures in r for later inspection.
func WithRecorder(r *Recorder) Option {
	return func(u *Untangler) { u.recorder = r }
}

// WithClock overrides the time source used to stamp diagnostics.
func WithClock(now func() time.Time) Option {
	return func(u *Untangler) { u.clock = now }
}

// New returns an Untangler configured by opts.
func New(opts ...Option) *Untangler {
	u := &Untangler{}
	for _, opt := range opts {
		opt(u)
	}
	if u.clock == nil {
		u.clock = time.Now
	}
	return u
}

// Untangle returns s with every link of the first matching format replaced
// by its decoded destination. Only one layer is removed: a Safe Links URL
// that wraps a URL Defense URL comes back as the URL Defense URL.
//
// A capture that fails to decode is substituted verbatim and reported as a
// diagnostic; Untangle never fails.
func (u *Untangler) Untangle(s string) string {
	d, ok := u.match(s)
	if !ok {
		return s
	}

	idx := d.pattern.FindAllStringSubmatchIndex(s, -1)
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range idx {
		start, end := m[0], m[1]
		bracketed := m[2] >= 0
		capture := s[m[4]:m[5]]
		var extra []string
		for g := 3; 2*g+1 < len(m); g++ {
			if m[2*g] >= 0 {
				extra = append(extra, s[m[2*g]:m[2*g+1]])
			} else {
				extra = append(extra, "")
			}
		}

		b.WriteString(s[last:start])
		decoded, err := d.decode(capture, extra)
		if err != nil {
			u.report(&DecodeError{Format: d.format, Capture: capture, Err: err})
			decoded = capture
		}
		b.WriteString(decoded)
		if bracketed && end < len(s) && s[end] == '>' {
			end++
		}
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// IsWrapped reports whether s contains a link in any known format.
func (u *Untangler) IsWrapped(s string) bool {
	_, ok := u.match(s)
	return ok
}

// Detect returns the format Untangle would apply to s.
func (u *Untangler) Detect(s string) Format {
	d, ok := u.match(s)
	if !ok {
		return FormatNone
	}
	return d.format
}

func (u *Untangler) match(s string) (decoder, bool) {
	// Every pattern requires the scheme separator.
	if !strings.Contains(s, "://") {
		return decoder{}, false
	}
	for _, d := range registry {
		if d.pattern.MatchString(s) {
			return d, true
		}
	}
	return decoder{}, false
}

func (u *Untangler) report(err *DecodeError) {
	logger := u.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("links: decode failed",
		slog.String("format", err.Format.String()),
		slog.String("capture", err.Capture),
		slog.String("error", err.Err.Error()))
	if u.recorder != nil {
		u.recorder.Record(Diagnostic{
			Time:    u.clock(),
			Format:  err.Format,
			Capture: err.Capture,
			Reason:  err.Err.Error(),
			Err:     err,
		})
	}
}

var std = New()

// Untangle decodes s with the default Untangler.
func Untangle(s string) string { return std.Untangle(s) }

// IsWrapped reports whether s contains a wrapped link.
func IsWrapped(s string) bool { return std.IsWrapped(s) }

// Detect returns the format that would be applied to s.
func Detect(s string) Format { return std.Detect(s) }
