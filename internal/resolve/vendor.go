package resolve

import (
	"strings"

	"github.com/harwick/gpuscout/internal/textsim"
)

// Vendor keyword tables. A title's inferred vendor must agree with a
// candidate identity's vendor before the pattern or fuzzy stages may accept
// it; a competitor's part number sharing digits is never a match.
var vendorKeywords = map[string][]string{
	"NVIDIA": {"nvidia", "geforce", "rtx", "gtx", "quadro", "tesla", "titan"},
	"AMD":    {"amd", "radeon", "instinct", "firepro"},
	"Intel":  {"intel", "arc", "battlemage", "alchemist"},
}

// inferVendor returns the vendor implied by the title tokens, or "" when no
// vendor keyword appears. When keywords from several vendors appear the
// title is ambiguous and "" is returned, leaving the vendor gate open.
func inferVendor(title string) string {
	tokens := textsim.Tokens(title)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	matched := ""
	for vendor, keywords := range vendorKeywords {
		for _, kw := range keywords {
			if _, ok := tokenSet[kw]; !ok {
				continue
			}
			if matched != "" && matched != vendor {
				return ""
			}
			matched = vendor
			break
		}
	}
	return matched
}

// vendorCompatible reports whether a candidate device vendor is acceptable
// for the given title. An un-inferable vendor never blocks a candidate;
// a conflicting one always does.
func vendorCompatible(title, deviceVendor string) bool {
	inferred := inferVendor(title)
	if inferred == "" {
		return true
	}
	return strings.EqualFold(inferred, deviceVendor)
}
