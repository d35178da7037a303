package notification

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// campaignPathPrefix is the same-origin route for campaign pages.
const campaignPathPrefix = "/campaigns/"

// IsSafeHref reports whether href is a same-origin path. Protocol-relative
// ("//host") and backslash ("/\host") forms are rejected because browsers
// resolve them to another origin.
func IsSafeHref(href string) bool {
	if !strings.HasPrefix(href, "/") {
		return false
	}
	if strings.HasPrefix(href, "//") || strings.HasPrefix(href, `/\`) {
		return false
	}
	for _, r := range href {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// IsCommentFamily reports whether typ belongs to the comment types whose
// links carry solution and comment anchors.
func IsCommentFamily(typ string) bool {
	return typ == TypeComment || strings.HasPrefix(typ, TypeComment+"_")
}

// NormalizeHref returns href when it is safe, otherwise a campaign link
// derived from meta, otherwise "".
func NormalizeHref(href, typ string, meta map[string]any) string {
	href = strings.TrimSpace(href)
	if href != "" && IsSafeHref(href) {
		return href
	}
	return synthesizeHref(typ, meta)
}

func synthesizeHref(typ string, meta map[string]any) string {
	slug := metaString(meta, "slug")
	if slug == "" {
		slug = metaString(meta, "campaignSlug")
	}
	if slug == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(campaignPathPrefix)
	b.WriteString(url.PathEscape(slug))

	if IsCommentFamily(typ) {
		sep := "?"
		for _, key := range []string{"solutionId", "commentId"} {
			v := metaString(meta, key)
			if v == "" {
				continue
			}
			b.WriteString(sep)
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
			sep = "&"
		}
	}

	out := b.String()
	if !IsSafeHref(out) {
		return ""
	}
	return out
}

// metaString reads a scalar meta value as text. JSON numbers decode as
// float64 and are rendered without a fractional part when integral.
func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
