// Package flavor implements the media flavor value object and transform
// contract (spec section 4.5), grounded on flavor.py's Flavor class.
package flavor

import (
	"crypto/sha1" //nolint:gosec // used only to derive a short, stable, non-cryptographic id
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"corpusdb/corpuserr"
)

// allowed values, spec section 4.5. 22500 is a deprecated alias for 22050,
// carried forward from original_source/audb/core/define.py.
var (
	allowedBitDepths     = map[int32]bool{8: true, 16: true, 24: true, 32: true}
	allowedSamplingRates = map[int32]bool{8000: true, 16000: true, 22050: true, 24000: true, 44100: true, 48000: true}
	allowedFormats       = map[string]bool{"wav": true, "flac": true}
)

const deprecatedSamplingRateAlias int32 = 22500

// Spec is a media flavor: a value object naming zero or more
// transformations to apply. A zero-value Spec is the default flavor
// (no transformation).
type Spec struct {
	BitDepth     int32 // 0 means unset
	Channels     []int // nil means unset; negative indices count from the last channel
	Format       string
	Mixdown      bool
	SamplingRate int32 // 0 means unset
}

// New validates spec and normalizes it: format is lowercased, the
// deprecated 22500 sampling-rate alias is folded to 22050, and mixdown is
// forced false when the channel selection is already mono.
func New(spec Spec) (Spec, error) {
	out := spec

	if out.BitDepth != 0 {
		if !allowedBitDepths[out.BitDepth] {
			return Spec{}, &corpuserr.InvalidArgumentError{Reason: fmt.Sprintf("bit_depth must be one of 8,16,24,32, got %d", out.BitDepth)}
		}
	}

	if out.Format != "" {
		out.Format = strings.ToLower(out.Format)
		if !allowedFormats[out.Format] {
			return Spec{}, &corpuserr.InvalidArgumentError{Reason: fmt.Sprintf("format must be one of wav,flac, got %q", out.Format)}
		}
	}

	if out.BitDepth == 32 && out.Format != "wav" {
		return Spec{}, &corpuserr.InvalidArgumentError{Reason: "bit_depth 32 requires format wav"}
	}

	if out.SamplingRate == deprecatedSamplingRateAlias {
		out.SamplingRate = 22050
	}
	if out.SamplingRate != 0 && !allowedSamplingRates[out.SamplingRate] {
		return Spec{}, &corpuserr.InvalidArgumentError{Reason: fmt.Sprintf("sampling_rate not supported: %d", spec.SamplingRate)}
	}

	if len(out.Channels) > 0 {
		ch := append([]int(nil), out.Channels...)
		out.Channels = ch
		if len(out.Channels) < 2 {
			out.Mixdown = false
		}
	} else {
		out.Channels = nil
	}

	return out, nil
}

// IsDefault reports whether spec requests no transformation at all.
func (s Spec) IsDefault() bool {
	return s.BitDepth == 0 && s.Format == "" && s.SamplingRate == 0 && !s.Mixdown && len(s.Channels) == 0
}

// ID is a short stable hash of the normalized specification (spec section
// 4.5). The sentinel "default" is used for the unset flavor so cache paths
// stay short and human-readable, per spec section 3.
func (s Spec) ID() string {
	if s.IsDefault() {
		return "default"
	}
	return shortHash(s.normalizedKey())
}

func (s Spec) normalizedKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bit_depth=%d;format=%s;mixdown=%t;sampling_rate=%d;channels=", s.BitDepth, s.Format, s.Mixdown, s.SamplingRate)
	for i, c := range s.Channels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(c))
	}
	return b.String()
}

func shortHash(key string) string {
	sum := sha1.Sum([]byte(key)) //nolint:gosec // non-cryptographic identifier, not a security boundary
	return hex.EncodeToString(sum[:])[:8]
}

// Destination returns the path file would have after this flavor is
// applied: the extension changes only when Format is set and differs from
// file's current extension (flavor.py's Flavor.destination).
func (s Spec) Destination(file string) string {
	if s.Format == "" {
		return file
	}
	ext := extensionOf(file)
	if ext == s.Format {
		return file
	}
	return file[:len(file)-len(ext)] + s.Format
}

func extensionOf(file string) string {
	idx := strings.LastIndex(file, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(file[idx+1:])
}

// SourceProps describes the properties of a source media file already
// known to the caller (e.g. from the dependency table), avoiding a redundant
// probe of the file itself.
type SourceProps struct {
	Format       string
	BitDepth     int32
	Channels     int32
	SamplingRate int32
}

// NeedsConversion reports whether file's actual properties differ from the
// flavor spec, per flavor.py's _check_convert. When conversion is required
// but neither the flavor nor the source format is a known writable target,
// callers should treat that as an UnsupportedConversionError.
func (s Spec) NeedsConversion(props SourceProps) bool {
	format := strings.ToLower(props.Format)
	if s.Format != "" && s.Format != format {
		return true
	}
	if s.BitDepth != 0 && s.BitDepth != props.BitDepth {
		return true
	}
	if s.Mixdown && props.Channels != 1 {
		return true
	}
	if len(s.Channels) > 0 && !isIdentityChannelSelection(s.Channels, props.Channels) {
		return true
	}
	if s.SamplingRate != 0 && s.SamplingRate != props.SamplingRate {
		return true
	}
	return false
}

func isIdentityChannelSelection(channels []int, n int32) bool {
	if int32(len(channels)) != n {
		return false
	}
	for i, c := range channels {
		if c != i {
			return false
		}
	}
	return true
}

// ResolveChannels turns possibly-negative channel indices into concrete
// zero-based indices against a known channel count, matching audresample's
// negative-indexing convention (spec section 4.5).
func ResolveChannels(channels []int, total int32) ([]int, error) {
	out := make([]int, len(channels))
	for i, c := range channels {
		idx := c
		if idx < 0 {
			idx += int(total)
		}
		if idx < 0 || idx >= int(total) {
			return nil, &corpuserr.InvalidArgumentError{Reason: fmt.Sprintf("channel index %d out of range for %d channels", c, total)}
		}
		out[i] = idx
	}
	return out, nil
}

// Transformer is the audio-transform collaborator the flavor engine drives
// (spec section 6): given a source file and its known properties, produce
// dst in the shape described by spec.
type Transformer interface {
	Transform(srcPath, dstPath string, src SourceProps, spec Spec) error
}
