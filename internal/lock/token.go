package lock

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewHolderToken returns an opaque holder id built from the hostname, the
// process id and a random nonce, so tokens never repeat across processes or
// acquisitions.
func NewHolderToken() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}
