// Package session derives the dialogue session id and the per-connection
// X-Api-Connect-Id header value.
package session

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const macAddrPath = "/sys/class/net/eth0/address"

// ID reads the first line of macAddrPath and strips ':' separators. On any
// read failure it falls back to a UTC timestamp string "YYYY-MM-DD HH:MM:SS",
// matching the original C++ client's GetSessionId().
func ID() string {
	b, err := os.ReadFile(macAddrPath)
	if err != nil {
		return fallbackID()
	}
	line := strings.TrimSpace(strings.SplitN(string(b), "\n", 2)[0])
	if line == "" {
		return fallbackID()
	}
	return strings.ReplaceAll(line, ":", "")
}

func fallbackID() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// ConnectID returns a fresh random connect id for the X-Api-Connect-Id
// header. Unlike original_source's hardcoded "xdrobot", each reconnect gets
// a distinct value.
func ConnectID() string {
	return uuid.NewString()
}
