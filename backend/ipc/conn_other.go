//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path"
	"syscall"
)

// socketPath is $XDG_RUNTIME_DIR/mediatray.sock, or /tmp/mediatray-{uid}.sock as fallback.
var socketPath = "/tmp/mediatray.sock"

func init() {
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		socketPath = path.Join(runtime, "mediatray.sock")
	} else if user, err := user.Current(); err == nil {
		socketPath = fmt.Sprintf("/tmp/mediatray-%s.sock", user.Uid)
	}
}

// Dial establishes a connection to the IPC socket.
// Returns an error if the socket doesn't exist or connection fails.
func Dial() (net.Conn, error) {
	return net.Dial("unix", socketPath)
}

// Listen creates a Unix domain socket listener at the configured path.
// A socket file left behind by an instance that crashed is replaced.
func Listen() (net.Listener, error) {
	l, err := net.Listen("unix", socketPath)
	if err != nil && errors.Is(err, syscall.EADDRINUSE) {
		if c, dialErr := Dial(); dialErr == nil {
			c.Close()
			return nil, err // live instance
		}
		os.Remove(socketPath)
		return net.Listen("unix", socketPath)
	}
	return l, err
}

// DestroyConn removes the Unix socket file from the filesystem.
// Should be called during application shutdown.
func DestroyConn() error {
	return os.Remove(socketPath)
}
