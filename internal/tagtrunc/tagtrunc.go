// Package tagtrunc shortens routing tags to a fixed byte budget.
//
// Syslog-style destinations limit the APP-NAME field to 32 bytes. Tags of
// the form kube.<namespace>.<pod>.<container>[.more] are rewritten to
// <namespace>.<pod>.<container> and, when that is still too long, the pod
// name is cut and marked with '*'. Namespace and container are kept intact
// whenever they fit.
package tagtrunc

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxLength is the syslog APP-NAME limit.
	DefaultMaxLength = 32

	// Marker is appended wherever information was cut.
	Marker = '*'

	procPrefix = "_proc"
	kubePrefix = "kube"
)

// Truncator applies Truncate with a fixed maximum length.
type Truncator struct {
	maxLength int
}

// New returns a Truncator. A non-positive maxLength selects DefaultMaxLength.
func New(maxLength int) *Truncator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Truncator{maxLength: maxLength}
}

// MaxLength returns the configured budget.
func (t *Truncator) MaxLength() int { return t.maxLength }

// Truncate shortens tag to at most t.MaxLength() bytes.
func (t *Truncator) Truncate(tag string) string {
	return Truncate(tag, t.maxLength)
}

// Truncate shortens tag to at most maxLength bytes. It never fails; if the
// structured rewrite panics the tag is simply cut to maxLength.
func Truncate(tag string, maxLength int) (out string) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	defer func() {
		if recover() != nil {
			out = cut(tag, maxLength)
		}
	}()

	ns, pod, container, ok := classify(stripProc(split(tag)))
	if !ok {
		return fallback(strings.TrimPrefix(tag, procPrefix+"."), maxLength)
	}
	return shorten(ns, pod, container, maxLength)
}

// split breaks tag on dots for classification, ignoring trailing empty
// segments.
func split(tag string) []string {
	parts := strings.Split(tag, ".")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// stripProc removes the leading marker added by the exception detector.
func stripProc(parts []string) []string {
	if len(parts) > 0 && parts[0] == procPrefix {
		return parts[1:]
	}
	return parts
}

// classify extracts namespace, pod and container from a kube tag. Extra
// trailing segments are discarded.
func classify(parts []string) (ns, pod, container string, ok bool) {
	if len(parts) < 4 || parts[0] != kubePrefix {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// fallback handles tags outside the kube convention.
func fallback(tag string, maxLength int) string {
	if len(tag) <= maxLength {
		return tag
	}
	return mark(tag, maxLength)
}

// shorten sacrifices the pod name first.
func shorten(ns, pod, container string, maxLength int) string {
	total := len(ns) + len(pod) + len(container) + 2
	if total <= maxLength {
		return ns + "." + pod + "." + container
	}

	overhead := total - maxLength
	if len(pod) <= overhead {
		return mark(ns+"."+pod+"."+container, maxLength)
	}

	t := ns + "." + cut(pod, len(pod)-overhead-1) + string(Marker) + "." + container
	if len(t) > maxLength {
		return cut(t, maxLength)
	}
	return t
}

// mark cuts s so that s plus the marker is at most maxLength bytes.
func mark(s string, maxLength int) string {
	if maxLength < 1 {
		return ""
	}
	return cut(s, maxLength-1) + string(Marker)
}

// cut returns the longest prefix of s that is at most n bytes and does not
// split a UTF-8 sequence.
func cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
