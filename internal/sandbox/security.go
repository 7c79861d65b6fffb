package sandbox

import (
	"fmt"

	"go.starlark.net/syntax"
)

// deniedOS are the os.<name>(...) calls rejected before execution.
var deniedOS = map[string]bool{
	"remove":     true,
	"rename":     true,
	"unlink":     true,
	"rmdir":      true,
	"removedirs": true,
}

// SecurityViolation is a deny-listed filesystem call found in the source.
// It is a best-effort check, not a sandbox boundary.
type SecurityViolation struct {
	Call string
	Pos  syntax.Position
}

func (e *SecurityViolation) Error() string {
	return fmt.Sprintf("security violation: %s is not allowed (%s)", e.Call, e.Pos)
}

// checkSecurity walks f and reports the first call shaped like os.remove(...)
// or os.rename(...). Other os calls, including os.path.*, pass.
func checkSecurity(f *syntax.File) error {
	var violation *SecurityViolation
	syntax.Walk(f, func(n syntax.Node) bool {
		if violation != nil {
			return false
		}
		call, ok := n.(*syntax.CallExpr)
		if !ok {
			return true
		}
		dot, ok := call.Fn.(*syntax.DotExpr)
		if !ok {
			return true
		}
		id, ok := dot.X.(*syntax.Ident)
		if ok && id.Name == "os" && deniedOS[dot.Name.Name] {
			violation = &SecurityViolation{Call: "os." + dot.Name.Name, Pos: call.Lparen}
			return false
		}
		return true
	})
	if violation != nil {
		return violation
	}
	return nil
}
