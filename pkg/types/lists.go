package types

// Lists is the block/allow list record. Blacklist patterns are tested against
// the source of a mention and any match rejects it. Whitelist patterns are
// tested against the target and at least one must match.
//
// A list holding only the empty string is the unset value and places no
// restriction. It is also the JSON representation of an unset list.
type Lists struct {
	Blacklist []string `json:"blacklist" yaml:"blacklist"`
	Whitelist []string `json:"whitelist" yaml:"whitelist"`
}

// UnsetList returns a fresh copy of the unset sentinel.
func UnsetList() []string {
	return []string{""}
}

// DefaultLists returns a record with both lists unset.
func DefaultLists() Lists {
	return Lists{Blacklist: UnsetList(), Whitelist: UnsetList()}
}

// IsUnset reports whether list is the unset sentinel.
func IsUnset(list []string) bool {
	return len(list) == 1 && list[0] == ""
}

// BlacklistUnset reports whether the blacklist places no restriction.
func (l Lists) BlacklistUnset() bool { return IsUnset(l.Blacklist) }

// WhitelistUnset reports whether the whitelist places no restriction.
func (l Lists) WhitelistUnset() bool { return IsUnset(l.Whitelist) }

// Normalize maps empty or nil lists to the unset sentinel and returns copies
// so callers may keep the result after mutating their own slices.
func (l Lists) Normalize() Lists {
	return Lists{
		Blacklist: normalizeList(l.Blacklist),
		Whitelist: normalizeList(l.Whitelist),
	}
}

func normalizeList(list []string) []string {
	if len(list) == 0 {
		return UnsetList()
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}
