package console

// Reset is the terminal code that clears every active style.
const Reset = "\x1b[0m"

// Styles maps marker names to terminal style codes. A Styles value handed to New is
// copied, so later changes to the caller's map do not affect the formatter.
type Styles map[string]string

// DefaultStyles returns the standard marker table. Several markers alias the same
// colour, e.g. <red> and <r>.
func DefaultStyles() Styles {
	return Styles{
		"clr":   Reset,
		"clear": Reset,

		"bld": "\x1b[1m",
		"fdd": "\x1b[2m",
		"itl": "\x1b[3m",
		"und": "\x1b[4m",
		"sfl": "\x1b[5m",
		"ffl": "\x1b[6m",
		"inv": "\x1b[7m",

		"blk":   "\x1b[30m",
		"black": "\x1b[30m",
		"k":     "\x1b[30m",

		"red": "\x1b[31m",
		"r":   "\x1b[31m",

		"grn":   "\x1b[32m",
		"green": "\x1b[32m",
		"g":     "\x1b[32m",

		"yel":    "\x1b[33m",
		"yellow": "\x1b[33m",
		"y":      "\x1b[33m",

		"blue": "\x1b[34m",
		"b":    "\x1b[34m",

		"prp":    "\x1b[35m",
		"purple": "\x1b[35m",
		"m":      "\x1b[35m",

		"trq":  "\x1b[36m",
		"cyan": "\x1b[36m",
		"c":    "\x1b[36m",

		"wht":   "\x1b[37m",
		"white": "\x1b[37m",
		"w":     "\x1b[37m",

		// backgrounds
		"blk_f": "\x1b[40m",
		"kf":    "\x1b[40m",

		"red_f": "\x1b[41m",
		"rf":    "\x1b[41m",

		"grn_f": "\x1b[42m",
		"gf":    "\x1b[42m",

		"yel_f": "\x1b[43m",
		"yf":    "\x1b[43m",

		"blue_f": "\x1b[44m",
		"bf":     "\x1b[44m",

		"prp_f": "\x1b[45m",
		"mf":    "\x1b[45m",

		"trq_f": "\x1b[46m",
		"cf":    "\x1b[46m",

		"wht_f": "\x1b[47m",
		"wf":    "\x1b[47m",
	}
}

func (s Styles) clone() Styles {
	out := make(Styles, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
