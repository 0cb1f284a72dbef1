package input

import (
	"regexp"
	"strconv"
)

// xKeysyms maps browser KeyboardEvent.key values onto the X keysym names
// the injection tool understands. Punctuation needs explicit entries
// because keysym names are symbolic ("numbersign"), not literal.
var xKeysyms = map[string]string{
	"Control":    "Control_L",
	"Shift":      "Shift_L",
	"Alt":        "Alt_L",
	"Meta":       "Super_L",
	"Enter":      "Return",
	"Backspace":  "BackSpace",
	"ArrowUp":    "Up",
	"ArrowDown":  "Down",
	"ArrowLeft":  "Left",
	"ArrowRight": "Right",
	"Escape":     "Escape",
	"Tab":        "Tab",
	"Home":       "Home",
	"End":        "End",
	"PageUp":     "Page_Up",
	"PageDown":   "Page_Down",
	"Delete":     "Delete",
	"Insert":     "Insert",
	" ":          "space",
	"!":          "exclam",
	"\"":         "quotedbl",
	"#":          "numbersign",
	"$":          "dollar",
	"%":          "percent",
	"&":          "ampersand",
	"'":          "apostrophe",
	"(":          "parenleft",
	")":          "parenright",
	"*":          "asterisk",
	"+":          "plus",
	",":          "comma",
	"-":          "minus",
	".":          "period",
	"/":          "slash",
	":":          "colon",
	";":          "semicolon",
	"<":          "less",
	"=":          "equal",
	">":          "greater",
	"?":          "question",
	"@":          "at",
	"[":          "bracketleft",
	"\\":         "backslash",
	"]":          "bracketright",
	"^":          "asciicircum",
	"_":          "underscore",
	"`":          "grave",
	"{":          "braceleft",
	"|":          "bar",
	"}":          "braceright",
	"~":          "asciitilde",
}

func init() {
	for i := 1; i <= 12; i++ {
		key := "F" + strconv.Itoa(i)
		xKeysyms[key] = key
	}
}

var keysymNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// MapKey translates a browser key value to the keysym to inject. Unmapped
// values pass through when they look like a keysym name or are a single
// printable ASCII character; everything else reports false and is dropped.
func MapKey(key string) (string, bool) {
	if sym, ok := xKeysyms[key]; ok {
		return sym, true
	}
	if keysymNameRe.MatchString(key) {
		return key, true
	}
	if len(key) == 1 && key[0] >= 32 && key[0] <= 126 {
		return key, true
	}
	return "", false
}
