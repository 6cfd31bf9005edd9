//go:build windows

package ipc

import (
	"context"
	"net"
	"os/user"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\mediatray-`

// one pipe per user account, so two logged-in users each get their own instance
var pipeName = pipePrefix + "default"

func init() {
	u, err := user.Current()
	if err != nil {
		return
	}
	if name := pipeSafe(u.Username); name != "" {
		pipeName = pipePrefix + name
	}
}

func pipeSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, s)
}

func Dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return winio.DialPipeContext(ctx, pipeName)
}

func Listen() (net.Listener, error) {
	return winio.ListenPipe(pipeName, nil)
}

// Named pipes go away with the listener.
func DestroyConn() error {
	return nil
}
