package terminal

import (
	"fmt"
	"io"
	"sync"

	"github.com/MarcoPoloResearchLab/watergrow/internal/session"
)

// BellNotifier renders system notifications as a terminal bell plus a line.
type BellNotifier struct {
	permission session.Permission
	mu         sync.Mutex
	out        io.Writer
}

func NewBellNotifier(permission session.Permission, out io.Writer) *BellNotifier {
	return &BellNotifier{permission: permission, out: out}
}

func (n *BellNotifier) Permission() session.Permission {
	return n.permission
}

func (n *BellNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.out, "\a[%s] %s\n", title, body)
	return err
}
