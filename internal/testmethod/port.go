// v0
// internal/testmethod/port.go
package testmethod

// Port is the exit port a test method reports to the flow.
type Port int

const (
	PortError Port = 0
	PortPass  Port = 1
	PortFail  Port = 2
)

func (p Port) String() string {
	switch p {
	case PortError:
		return "error"
	case PortPass:
		return "pass"
	case PortFail:
		return "fail"
	default:
		return "unknown"
	}
}

// severity orders ports so the worst one wins: error, then fail, then pass.
func (p Port) severity() int {
	switch p {
	case PortPass:
		return 0
	case PortFail:
		return 1
	default:
		return 2
	}
}

// Worst returns the more severe of two ports.
func Worst(a, b Port) Port {
	if b.severity() > a.severity() {
		return b
	}
	return a
}
