//go:build watchgraph_debug

package invariant

func check(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}
