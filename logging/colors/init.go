package colors

// init enables ANSI coloring. Unix systems support it by default, Windows needs a kernel call to find out.
func init() {
	EnableColor()
}
