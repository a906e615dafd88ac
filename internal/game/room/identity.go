package room

import "strings"

// NetStyle is a player's visual net style, assigned deterministically from
// the identity string so a player keeps their look across reconnects.
type NetStyle struct {
	Color string
	Name  string
}

var netStyles = []NetStyle{
	{Color: "#8b5cf6", Name: "Purple"},
	{Color: "#3b82f6", Name: "Blue"},
	{Color: "#10b981", Name: "Green"},
	{Color: "#f59e0b", Name: "Orange"},
	{Color: "#ef4444", Name: "Red"},
	{Color: "#ec4899", Name: "Pink"},
}

// StyleIndex hashes the tail of an identity into the style palette.
func StyleIndex(identity string) int {
	if identity == "" {
		return 0
	}
	tail := identity
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	var h int32
	for _, c := range tail {
		h = (h << 5) - h + c
	}
	if h < 0 {
		h = -h
	}
	return int(h) % len(netStyles)
}

// StyleFor returns the deterministic net style for an identity.
func StyleFor(identity string) NetStyle {
	return netStyles[StyleIndex(identity)]
}

// Nickname derives the display handle from an identity string,
// e.g. "Hunter#AB12" from a wallet address ending in ab12.
func Nickname(identity string) string {
	if identity == "" {
		return "Anonymous"
	}
	tail := identity
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "Hunter#" + strings.ToUpper(tail)
}
