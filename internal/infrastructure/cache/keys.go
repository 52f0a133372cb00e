package cache

import (
	"sort"
	"strings"
)

// Key composition scheme:
//
//	<namespace>:<tag1>.<tag2>:<logical-key>     (tagged entries)
//	<namespace>:<logical-key>                   (untagged entries)
//	<namespace>:tag:<tag>                       (tag member sets)
//
// Tags are sorted before composition so the same logical key and tag set
// always produce the same composed key, regardless of caller ordering.

// composeKey builds the full storage key for a logical key and its tags.
func composeKey(namespace, logical string, tags []string) string {
	if len(tags) == 0 {
		return namespace + ":" + logical
	}

	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	for i, tag := range sorted {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tag)
	}
	b.WriteByte(':')
	b.WriteString(logical)
	return b.String()
}

// tagSetKey builds the key under which a tag's member set is stored.
func tagSetKey(namespace, tag string) string {
	return namespace + ":tag:" + tag
}
