package patch

import (
	"fmt"
	"strings"

	"github.com/opsmend/opsmend/internal/models"
)

// renderDiff serializes file revisions into the requested diff format. The
// inverse diff is the same serialization with before and after swapped, so a
// rollback is always the exact mirror of the forward patch.
func renderDiff(revisions []models.FileRevision, format models.PatchFormat, inverse bool) string {
	var b strings.Builder
	for _, rev := range revisions {
		before, after := rev.Before, rev.After
		if inverse {
			before, after = after, before
		}
		switch format {
		case models.FormatContext:
			renderContextFile(&b, rev.Path, before, after)
		case models.FormatUnified:
			renderUnifiedFile(&b, rev.Path, before, after, false)
		default:
			renderUnifiedFile(&b, rev.Path, before, after, true)
		}
	}
	return b.String()
}

func renderUnifiedFile(b *strings.Builder, path, before, after string, gitHeader bool) {
	beforeLines := splitLines(before)
	afterLines := splitLines(after)
	start, oldMid, newMid := trimCommon(beforeLines, afterLines)

	if gitHeader {
		fmt.Fprintf(b, "diff --git a/%s b/%s\n", path, path)
		fmt.Fprintf(b, "--- a/%s\n+++ b/%s\n", path, path)
	} else {
		fmt.Fprintf(b, "--- %s\n+++ %s\n", path, path)
	}

	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", start+1, len(oldMid), start+1, len(newMid))
	for _, line := range oldMid {
		fmt.Fprintf(b, "-%s\n", line)
	}
	for _, line := range newMid {
		fmt.Fprintf(b, "+%s\n", line)
	}
}

func renderContextFile(b *strings.Builder, path, before, after string) {
	beforeLines := splitLines(before)
	afterLines := splitLines(after)
	start, oldMid, newMid := trimCommon(beforeLines, afterLines)

	fmt.Fprintf(b, "*** %s\n--- %s\n***************\n", path, path)
	fmt.Fprintf(b, "*** %d,%d ****\n", start+1, start+len(oldMid))
	for _, line := range oldMid {
		fmt.Fprintf(b, "- %s\n", line)
	}
	fmt.Fprintf(b, "--- %d,%d ----\n", start+1, start+len(newMid))
	for _, line := range newMid {
		fmt.Fprintf(b, "+ %s\n", line)
	}
}

// trimCommon strips the shared prefix and suffix of two line slices and
// returns the differing middle sections plus the prefix length.
func trimCommon(before, after []string) (start int, oldMid, newMid []string) {
	for start < len(before) && start < len(after) && before[start] == after[start] {
		start++
	}
	endBefore, endAfter := len(before), len(after)
	for endBefore > start && endAfter > start && before[endBefore-1] == after[endAfter-1] {
		endBefore--
		endAfter--
	}
	return start, before[start:endBefore], after[start:endAfter]
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}
