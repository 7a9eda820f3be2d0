// Package capability defines the closed capability vocabulary and the
// access-level templates used by permission grants.
package capability

import "strings"

// Set is a bit-set over the capability vocabulary.
type Set uint16

const (
	Read Set = 1 << iota
	Write
	Delete
	Share
	ManagePermissions
	Download
	Print
	Comment
	Checkout
	Approve
)

// All is every capability bit set.
const All = Read | Write | Delete | Share | ManagePermissions | Download | Print | Comment | Checkout | Approve

var byName = map[string]Set{
	"read":              Read,
	"write":             Write,
	"delete":            Delete,
	"share":             Share,
	"managepermissions": ManagePermissions,
	"download":          Download,
	"print":             Print,
	"comment":           Comment,
	"checkout":          Checkout,
	"approve":           Approve,
}

var names = []struct {
	bit  Set
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{Delete, "delete"},
	{Share, "share"},
	{ManagePermissions, "managePermissions"},
	{Download, "download"},
	{Print, "print"},
	{Comment, "comment"},
	{Checkout, "checkout"},
	{Approve, "approve"},
}

// Parse maps a capability name to its bit. Names are case-insensitive;
// unknown names report ok=false rather than an error.
func Parse(name string) (Set, bool) {
	bit, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return bit, ok
}

func (s Set) Has(c Set) bool {
	return s&c == c
}

func (s Set) Union(o Set) Set {
	return s | o
}

func (s Set) IsEmpty() bool {
	return s == 0
}

// Names renders the set as the canonical capability names, in vocabulary order.
func (s Set) Names() []string {
	out := make([]string, 0, len(names))
	for _, entry := range names {
		if s.Has(entry.bit) {
			out = append(out, entry.name)
		}
	}
	return out
}

// Level is a named access level used as a grant template.
type Level string

const (
	LevelOwner    Level = "Owner"
	LevelEditor   Level = "Editor"
	LevelReviewer Level = "Reviewer"
	LevelReader   Level = "Reader"
	LevelNone     Level = "None"
)

// Template resolves a level to its fixed capability set.
func Template(level Level) (Set, bool) {
	switch level {
	case LevelOwner:
		return All, true
	case LevelEditor:
		return Read | Write | Download | Checkout | Comment, true
	case LevelReviewer:
		return Read | Comment | Approve | Download, true
	case LevelReader:
		return Read | Download | Print, true
	case LevelNone:
		return 0, true
	default:
		return 0, false
	}
}
