package links

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	safeLinksSample = "https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com%2Fpath&data=xyz"
	v1Sample        = "https://urldefense.proofpoint.com/v1/url?u=http://www.bouncycastle.org/&k=abc"
	v2Sample        = "https://urldefense.proofpoint.com/v2/url?u=https-3A__media.mnn.com_assets_images_2016_06_jupiter-2Dnasa.jpg&d=DwMBaQ&c=Vxt5e0Os"
	v3Sample        = "https://urldefense.com/v3/__https://google.com:443/search?q=a*test&gs=ps__;Kw!-612Flbf0JvQ3kNJkRi5Jg!Ue6tQudNKaShHg93trcdjqDP8se2ySE65jyCIe2K1D_uNjZ1Lnf6YLQERujngZv9UWf66ujQIQ$"
)

func quietUntangler(opts ...Option) *Untangler {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(opts...)
}

func TestUntangleKnownFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     string
		want   string
		format Format
	}{
		{
			name:   "safe links",
			in:     safeLinksSample,
			want:   "https://example.com/path",
			format: FormatSafeLinks,
		},
		{
			name:   "url defense v1",
			in:     v1Sample,
			want:   "http://www.bouncycastle.org/",
			format: FormatURLDefenseV1,
		},
		{
			name:   "url defense v1 double slash",
			in:     "https://urldefense.proofpoint.com/v1//url?u=http://www.bouncycastle.org/&k=oIvRg1%2BdGAgOoM1BIlLLqw%3D%3D%0A&r=IKM5u8%2B%2F%2Fi8EBhWOS%2BqGbTqCC%2BrMqWI%2FVfEAEsQO%2F0Y%3D%0A",
			want:   "http://www.bouncycastle.org/",
			format: FormatURLDefenseV1,
		},
		{
			name:   "url defense v2",
			in:     v2Sample,
			want:   "https://media.mnn.com/assets/images/2016/06/jupiter-nasa.jpg",
			format: FormatURLDefenseV2,
		},
		{
			name:   "url defense v2 full",
			in:     "https://urldefense.proofpoint.com/v2/url?u=https-3A__media.mnn.com_assets_images_2016_06_jupiter-2Dnasa.jpg.638x0-5Fq80-5Fcrop-2Dsmart.jpg&d=DwMBaQ&c=Vxt5e0Osvvt2gflwSlsJ5DmPGcPvTRKLJyp031rXjhg&r=BTD8MPjq1qSLi0tGKaB5H6aCJZZBjwYkLyorZdRQrnY&m=iKjixvaJuqvmReS78AB0JiActTrR_liSq7lDRjEQ9DE&s=-M8Vz-GV-kqkNVf1BAtv38DdudAHVDAI6_jQQLVmleE&e=",
			want:   "https://media.mnn.com/assets/images/2016/06/jupiter-nasa.jpg.638x0_q80_crop-smart.jpg",
			format: FormatURLDefenseV2,
		},
		{
			name:   "url defense v3",
			in:     v3Sample,
			want:   "https://google.com:443/search?q=a+test&gs=ps",
			format: FormatURLDefenseV3,
		},
		{
			name:   "url defense v3 escaped placeholder",
			in:     "https://urldefense.com/v3/__https://example.com/a*20b__;JQ!!abc$",
			want:   "https://example.com/a b",
			format: FormatURLDefenseV3,
		},
		{
			name:   "url defense v3 run placeholder",
			in:     "https://urldefense.com/v3/__https://example.com/a*b**Ac__;K0Ah!!abc$",
			want:   "https://example.com/a+b@!c",
			format: FormatURLDefenseV3,
		},
		{
			name:   "url defense v3 without encoded run",
			in:     "https://urldefense.com/v3/__https://example.com/q=a*test_b-2Dc__;!!abc$",
			want:   "https://example.com/q=a*test/b-c",
			format: FormatURLDefenseV3,
		},
		{
			name:   "upper case",
			in:     "HTTPS://NAM12.SAFELINKS.PROTECTION.OUTLOOK.COM/?URL=https%3A%2F%2Fexample.com&DATA=1",
			want:   "https://example.com",
			format: FormatSafeLinks,
		},
	}

	u := quietUntangler()
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, u.Untangle(tc.in))
			assert.Equal(t, tc.format, u.Detect(tc.in))
			assert.True(t, u.IsWrapped(tc.in))
		})
	}
}

func TestUntangleIdentity(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"hello world",
		"https://example.com/path?x=1&y=2",
		"https://urldefense.com/v2/__https://example.com__;!!",
		"nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com&data=1",
		"https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com",
		"mailto:someone@example.com",
	}
	u := quietUntangler()
	for _, in := range inputs {
		assert.Equal(t, in, u.Untangle(in), "input %q", in)
		assert.False(t, u.IsWrapped(in), "input %q", in)
		assert.Equal(t, FormatNone, u.Detect(in), "input %q", in)
	}
}

func TestUntangleIsIdempotent(t *testing.T) {
	t.Parallel()
	u := quietUntangler()
	for _, in := range []string{safeLinksSample, v1Sample, v2Sample, v3Sample} {
		once := u.Untangle(in)
		assert.Equal(t, once, u.Untangle(once), "input %q", in)
		assert.False(t, u.IsWrapped(once), "input %q", in)
	}
}

func TestUntangleInText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "surrounded by prose",
			in:   "Please see " + safeLinksSample + "&reserved=0 for details.",
			want: "Please see https://example.com/path for details.",
		},
		{
			name: "two links",
			in:   "a https://x.safelinks.protection.outlook.com/?url=https%3A%2F%2Fone.example&data=1 b https://y.safelinks.protection.outlook.com/?url=https%3A%2F%2Ftwo.example&data=2",
			want: "a https://one.example b https://two.example",
		},
		{
			name: "angle brackets",
			in:   "link: <" + safeLinksSample + ">, thanks",
			want: "link: https://example.com/path, thanks",
		},
		{
			name: "closing bracket without opening one",
			in:   safeLinksSample + ">",
			want: "https://example.com/path>",
		},
		{
			name: "multi line",
			in:   "one\n" + v1Sample + "\ntwo",
			want: "one\nhttp://www.bouncycastle.org/\ntwo",
		},
	}
	u := quietUntangler()
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, u.Untangle(tc.in))
		})
	}
}

func TestUntangleFirstFormatWins(t *testing.T) {
	t.Parallel()
	u := quietUntangler()
	v2 := "https://urldefense.proofpoint.com/v2/url?u=https-3A__a.example_&d=x"
	in := v2 + " and https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fb.example&data=1"

	assert.Equal(t, FormatSafeLinks, u.Detect(in))
	assert.Equal(t, v2+" and https://b.example", u.Untangle(in))
}

func TestUntangleRemovesOneLayer(t *testing.T) {
	t.Parallel()
	u := quietUntangler()
	in := "https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Furldefense.com%2Fv3%2F__http%3A%2F%2Fsites.computer.org%2Fdebull%2Fbull_issues.html__%3B!!OToaGQ!7W9jIklmmV17ZZ9Go5i6foqOOILxtAEH5DD2aBvA2_ghSzJbPIROMONSwOafiqU46w%24&data=05%7C01"

	got := u.Untangle(in)
	assert.Equal(t, "https://urldefense.com/v3/__http://sites.computer.org/debull/bull_issues.html__;!!OToaGQ!7W9jIklmmV17ZZ9Go5i6foqOOILxtAEH5DD2aBvA2_ghSzJbPIROMONSwOafiqU46w$", got)
	assert.Equal(t, FormatURLDefenseV3, u.Detect(got))
}

func TestUntangleDecodeFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{
			name:    "truncated escape",
			in:      "https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com%2&data=1",
			want:    "https%3A%2F%2Fexample.com%2",
			wantErr: ErrMalformedEscape,
		},
		{
			name:    "invalid utf-8",
			in:      "https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com%2F%FF&data=1",
			want:    "https%3A%2F%2Fexample.com%2F%FF",
			wantErr: ErrInvalidUTF8,
		},
		{
			name:    "invalid utf-8 next to raw bytes",
			in:      "https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com%2F\xff%FF&data=1",
			want:    "https%3A%2F%2Fexample.com%2F\xff%FF",
			wantErr: ErrInvalidUTF8,
		},
		{
			name:    "v2 bad escape",
			in:      "see https://urldefense.proofpoint.com/v2/url?u=https-3A__bad-ZZhost&d=x now",
			want:    "see https-3A__bad-ZZhost now",
			wantErr: ErrMalformedEscape,
		},
		{
			name:    "v3 placeholders exhausted",
			in:      "https://urldefense.com/v3/__https://example.com/a*b*c__;Kw!!x$",
			want:    "https://example.com/a*b*c",
			wantErr: ErrTokenOverflow,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := NewRecorder(4)
			now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			u := quietUntangler(WithRecorder(rec), WithClock(func() time.Time { return now }))

			assert.Equal(t, tc.want, u.Untangle(tc.in))
			assert.True(t, u.IsWrapped(tc.in))

			require.Equal(t, 1, rec.Len())
			d := rec.Recent()[0]
			assert.Equal(t, now, d.Time)
			assert.Equal(t, u.Detect(tc.in), d.Format)
			assert.True(t, errors.Is(d.Err, tc.wantErr), "got %v", d.Err)

			var de *DecodeError
			require.True(t, errors.As(d.Err, &de))
			assert.Equal(t, de.Capture, d.Capture)
		})
	}
}

func TestPercentDecode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "a%2Bb+c", want: "a+b+c"},
		{in: "%E2%82%AC", want: "\u20ac"},
		{in: "raw\xff%2F", want: "raw\xff/"},
		{in: "%E2%82", wantErr: ErrInvalidUTF8},
		{in: "raw\xff%E2", wantErr: ErrInvalidUTF8},
		{in: "%E2%82x%AC", wantErr: ErrInvalidUTF8},
		{in: "%G1", wantErr: ErrMalformedEscape},
	}
	for _, tc := range tests {
		got, err := percentDecode(tc.in)
		if tc.wantErr != nil {
			assert.ErrorIs(t, err, tc.wantErr, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestIsWrappedMatchesUntangle(t *testing.T) {
	t.Parallel()
	u := quietUntangler()
	samples := []string{
		safeLinksSample, v1Sample, v2Sample, v3Sample,
		"plain text", "https://example.com/?url=x&data=y",
		"https://urldefense.proofpoint.com/v2/url?u=abc", // no terminator
	}
	for _, s := range samples {
		// Calling IsWrapped first must not change what Untangle sees.
		wrapped := u.IsWrapped(s)
		assert.Equal(t, u.Untangle(s) != s, wrapped, "sample %q", s)
		assert.Equal(t, wrapped, u.IsWrapped(s), "sample %q", s)
	}
}

func TestPackageLevelHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://example.com/path", Untangle(safeLinksSample))
	assert.True(t, IsWrapped(v1Sample))
	assert.Equal(t, FormatURLDefenseV2, Detect(v2Sample))
}

func TestFormats(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []Format{FormatSafeLinks, FormatURLDefenseV1, FormatURLDefenseV2, FormatURLDefenseV3}, Formats())
	assert.Equal(t, "urldefense-v3", FormatURLDefenseV3.String())
	assert.Equal(t, "none", FormatNone.String())
	text, err := FormatSafeLinks.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "safelinks", string(text))
}
