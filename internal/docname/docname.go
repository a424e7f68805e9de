// Package docname derives stable identifiers for logical documents from
// user-facing file names that may carry timestamp disambiguators.
package docname

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// timestampSuffix matches a trailing millisecond-epoch disambiguator: 13 or
// more digits, optionally preceded by "_" or "-", optionally followed by an
// extension. Re-saving a file as "report_1699999999999.xlsx" must resolve to
// the same logical document as "report.xlsx".
var timestampSuffix = regexp.MustCompile(`[_-]?\d{13,}(\.[A-Za-z0-9]+)?$`)

// knownExtensions are the file formats this service stores. Only these are
// stripped when deriving a base name; an unrecognized trailing ".something"
// is treated as part of the name itself, so names with interior dots keep
// them on repeated passes.
var knownExtensions = map[string]struct{}{
	".xlsx": {},
	".pdf":  {},
	".csv":  {},
	".txt":  {},
	".md":   {},
}

// BaseName strips any trailing timestamp suffix and known extension from
// name and reports whether a suffix was present. The result is a stable
// matching key: applying BaseName to its own output returns the output
// unchanged.
func BaseName(name string) (string, bool) {
	if name == "" {
		return Placeholder(), false
	}
	if loc := timestampSuffix.FindStringIndex(name); loc != nil {
		base := name[:loc[0]]
		if base != "" {
			return base, true
		}
		// The whole name is digits; keep it rather than returning "".
	}
	ext := path.Ext(name)
	if _, ok := knownExtensions[strings.ToLower(ext)]; !ok {
		return name, false
	}
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		return Placeholder(), false
	}
	return base, false
}

// Placeholder returns a generated name for documents created without one.
func Placeholder() string {
	return fmt.Sprintf("document-%s", uuid.NewString()[:8])
}

// CanonicalPair strips the timestamp suffix from both a storage path and its
// file name, re-attaching ext so the pair still addresses the same format.
// ext must include the leading dot (e.g. ".xlsx").
func CanonicalPair(storagePath, fileName, ext string) (string, string) {
	base, _ := BaseName(fileName)
	canonicalName := base + ext
	dir := path.Dir(storagePath)
	if dir == "." || dir == "/" {
		return canonicalName, canonicalName
	}
	return path.Join(dir, canonicalName), canonicalName
}

// CanonicalPath returns the preferred storage location for a document's
// current binary content: users/{userID}/{id}.xlsx. An extension already
// present on the id is not doubled.
func CanonicalPath(userID, docID string) string {
	name := docID
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return path.Join("users", userID, name+".xlsx")
}

// DocumentID returns the canonical document id for a display file name:
// the base name plus the spreadsheet extension. Repeated saves of
// timestamp-suffixed variants map to the same id.
func DocumentID(fileName string) string {
	base, _ := BaseName(fileName)
	return base + ".xlsx"
}
