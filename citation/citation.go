// Package citation turns raw document provenance into readable source names
// and keeps the citations of an answer consistent with the evidence that was
// actually retrieved.
package citation

import (
	"encoding/base64"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// UnknownSource is returned when no document name can be recovered.
const UnknownSource = "Unknown.pdf"

// minEncodedLength is the shortest raw value treated as a base64 candidate.
const minEncodedLength = 50

// DefaultExtensions are the document extensions recognised by Default.
var DefaultExtensions = []string{".pdf"}

// Default is the reconciler behind the package-level functions.
var Default = New(DefaultExtensions...)

// EvidenceChunk is one retrieved passage plus its provenance.
type EvidenceChunk struct {
	Content          string  `json:"content"`
	RawSource        string  `json:"raw_source"`
	NormalizedSource string  `json:"source"`
	Score            float64 `json:"score,omitempty"`
}

// Reconciler normalises sources and reconciles answer citations for a fixed
// set of document extensions.
type Reconciler struct {
	exts       []string
	filename   *regexp.Regexp
	multiBlock *regexp.Regexp
	multiLine  *regexp.Regexp
	single     *regexp.Regexp
	header     *regexp.Regexp
}

var (
	schemeRe = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
	claimSep = regexp.MustCompile(`[,;]`)
)

// heading matches "Source:" or "Sources:", optionally in markdown bold
// ("**Source:**" or "**Sources**:").
const heading = `(?:\*\*)?Sources?(?:\*\*)?:(?:\*\*)?`

// New builds a Reconciler. Extensions are matched case-insensitively and
// may be given with or without the leading dot.
func New(exts ...string) *Reconciler {
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	r := &Reconciler{}
	alts := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = "." + strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		r.exts = append(r.exts, ext)
		alts = append(alts, regexp.QuoteMeta(ext[1:]))
	}
	ext := `\.(?:` + strings.Join(alts, "|") + `)\b`

	r.filename = regexp.MustCompile(`(?i)([^/\\]+` + ext + `)`)
	r.multiBlock = regexp.MustCompile(`(?i)` + heading + `[ \t]*\n((?:[ \t]*\d+\.[ \t]*.+` + ext + `[^\n]*\n?)+)`)
	r.multiLine = regexp.MustCompile(`(?i)\d+\.\s*(.+` + ext + `)`)
	r.single = regexp.MustCompile(`(?i)` + heading + `[ \t]*(.+` + ext + `)[^\n]*`)
	r.header = regexp.MustCompile(`(?im)^[ \t]*` + heading + `[ \t]*$`)
	return r
}

// NormalizeSource normalises with the Default reconciler.
func NormalizeSource(raw string) string { return Default.NormalizeSource(raw) }

// Reconcile reconciles with the Default reconciler.
func Reconcile(answer string, chunks []EvidenceChunk) (string, []string) {
	return Default.Reconcile(answer, chunks)
}

// NewChunk builds a chunk with its normalised source filled in.
func NewChunk(content, rawSource string, score float64) EvidenceChunk {
	return Default.NewChunk(content, rawSource, score)
}

// NewChunk builds a chunk with its normalised source filled in.
func (r *Reconciler) NewChunk(content, rawSource string, score float64) EvidenceChunk {
	return EvidenceChunk{
		Content:          content,
		RawSource:        rawSource,
		NormalizedSource: r.NormalizeSource(rawSource),
		Score:            score,
	}
}

// NormalizeSource turns a raw provenance value (clean filename, URL,
// percent-encoded or base64-encoded URL) into a document name. It never
// fails; UnknownSource is returned when nothing usable is found.
func (r *Reconciler) NormalizeSource(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return UnknownSource
	}

	if r.hasExt(value) && !strings.ContainsAny(value, `/\`) {
		return unescape(value)
	}

	if !schemeRe.MatchString(value) && len(value) > minEncodedLength {
		if decoded, ok := decodeBase64(value); ok {
			value = decoded
		}
	}

	if strings.Contains(strings.ToLower(value), "http") {
		if u, err := url.Parse(strings.TrimSpace(value)); err == nil && u.Path != "" {
			if name := path.Base(u.Path); r.hasExt(name) {
				return name
			}
		}
	}

	if matches := r.filename.FindAllString(value, -1); len(matches) > 0 {
		return unescape(strings.TrimSpace(matches[len(matches)-1]))
	}
	return UnknownSource
}

// Reconcile checks the Source/Sources section the model wrote against the
// normalised sources of chunks. Claimed names that were not retrieved are
// dropped; retained names take the retrieved casing. When no claim survives
// but chunks exist, every retrieved source is listed. The returned answer
// carries exactly one freshly formatted section, or none when chunks is empty.
func (r *Reconciler) Reconcile(answer string, chunks []EvidenceChunk) (string, []string) {
	claimed := r.extractClaims(answer)
	body := r.stripSections(answer)

	retrieved := UniqueSources(chunks)
	if len(retrieved) == 0 {
		return body, nil
	}

	byLower := make(map[string]string, len(retrieved))
	for _, name := range retrieved {
		key := strings.ToLower(name)
		if _, ok := byLower[key]; !ok {
			byLower[key] = name
		}
	}

	var valid []string
	seen := make(map[string]bool)
	for _, claim := range claimed {
		key := strings.ToLower(strings.TrimSpace(claim))
		name, ok := byLower[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, name)
	}
	if len(valid) == 0 {
		valid = retrieved
	}

	if body == "" {
		return FormatSources(valid), valid
	}
	return body + "\n\n" + FormatSources(valid), valid
}

// ExtractClaims returns the document names an answer claims to cite, in order.
func (r *Reconciler) ExtractClaims(answer string) []string { return r.extractClaims(answer) }

func (r *Reconciler) extractClaims(answer string) []string {
	var claims []string
	if blocks := r.multiBlock.FindAllStringSubmatch(answer, -1); len(blocks) > 0 {
		for _, block := range blocks {
			for _, line := range strings.Split(block[1], "\n") {
				if m := r.multiLine.FindStringSubmatch(line); m != nil {
					claims = append(claims, cleanClaim(m[1]))
				}
			}
		}
		return claims
	}
	// "Source: a.pdf" and "Sources: a.pdf, b.pdf"
	for _, m := range r.single.FindAllStringSubmatch(answer, -1) {
		for _, part := range claimSep.Split(m[1], -1) {
			if name := cleanClaim(part); r.hasExt(name) {
				claims = append(claims, name)
			}
		}
	}
	return claims
}

func cleanClaim(s string) string {
	return strings.Trim(strings.TrimSpace(s), "*_`\"' ")
}

func (r *Reconciler) stripSections(answer string) string {
	out := r.multiBlock.ReplaceAllString(answer, "")
	out = r.single.ReplaceAllString(out, "")
	out = r.header.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func (r *Reconciler) hasExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range r.exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// UniqueSources returns the normalised sources of chunks, deduplicated in
// first-appearance order.
func UniqueSources(chunks []EvidenceChunk) []string {
	set := NewSourceSet()
	for _, c := range chunks {
		name := c.NormalizedSource
		if name == "" {
			name = NormalizeSource(c.RawSource)
		}
		set.Add(name)
	}
	return set.Names()
}

// FormatSources renders names as "Source: X" or a numbered "Sources:" list.
func FormatSources(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return "Source: " + names[0]
	}
	var b strings.Builder
	b.WriteString("Sources:")
	for i, name := range names {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(name)
	}
	return b.String()
}

// SourceSet is an insertion-ordered set of source names.
type SourceSet struct {
	names []string
	index map[string]struct{}
}

func NewSourceSet() *SourceSet {
	return &SourceSet{index: make(map[string]struct{})}
}

// Add inserts name and reports whether it was new.
func (s *SourceSet) Add(name string) bool {
	if _, ok := s.index[name]; ok {
		return false
	}
	s.index[name] = struct{}{}
	s.names = append(s.names, name)
	return true
}

func (s *SourceSet) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *SourceSet) Len() int { return len(s.names) }

// Names returns a copy of the names in insertion order.
func (s *SourceSet) Names() []string {
	return append([]string(nil), s.names...)
}

func unescape(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}

// decodeBase64 accepts standard and URL alphabets, repairs missing padding
// and tolerates the trailing padding-count digit some blob indexers append.
func decodeBase64(s string) (string, bool) {
	candidates := []string{s}
	if last := s[len(s)-1]; last >= '0' && last <= '9' {
		candidates = append(candidates, s[:len(s)-1])
	}
	for _, c := range candidates {
		c = strings.TrimRight(c, "=")
		if rem := len(c) % 4; rem != 0 {
			c += strings.Repeat("=", 4-rem)
		}
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
			raw, err := enc.DecodeString(c)
			if err != nil || !utf8.Valid(raw) {
				continue
			}
			if text := string(raw); printable(text) {
				return text, true
			}
		}
	}
	return "", false
}

func printable(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

