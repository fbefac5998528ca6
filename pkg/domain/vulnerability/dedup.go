package vulnerability

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Signature normalizes free text for identity comparison: NFKC, case folded and
// with runs of whitespace collapsed to one space.
func Signature(text string) string {
	text = norm.NFKC.String(text)
	text = cases.Fold().String(text)
	return strings.Join(strings.Fields(text), " ")
}

// DedupKey computes the natural identity of a vulnerability. Two reports of the
// same issue on the same target produce the same key regardless of case,
// Unicode form or whitespace in the name and description.
func DedupKey(workspaceID shared.ID, parent shared.Parent, name, description string, web *WebDetails) string {
	parts := []string{
		workspaceID.String(),
		parent.Key(),
		Signature(name),
		Signature(description),
	}
	if web != nil {
		parts = append(parts,
			strings.ToUpper(strings.TrimSpace(web.Method)),
			strings.TrimSpace(web.ParameterName),
		)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
