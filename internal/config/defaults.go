package config

import (
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/fsutil"
)

// DefaultConfigYAML is written by `quorum-sweep init`.
const DefaultConfigYAML = `# quorum-sweep configuration
#
# Values not specified here use built-in defaults.
# Every key can be overridden with an environment variable: lock.ttl -> SWEEP_LOCK_TTL.

log:
  level: info
  format: auto        # auto | text | json

# Distributed lock. Every orchestrator that shares a store must use the same
# secret. lock.ttl must exceed twice the heartbeat interval.
lock:
  backend: sqlite     # sqlite | redis | memory
  ttl: 60s
  heartbeat_interval: 10s
  secret: ""          # or SWEEP_LOCK_SECRET
  sqlite_path: .quorum-sweep/locks.db
  redis:
    addr: localhost:6379
    db: 0
    key_prefix: "quorum-sweep:lock:"

run:
  concurrency_limit: 4
  per_item_timeout: 45s   # must be less than lock.ttl
  max_attempts: 1
  retry_base_delay: 30s

# The fixer unit receives {"id","attempt","payload"} on stdin and must print
# {"status":"succeeded"|"failed","output":"...","error":"..."} as its last line.
executor:
  command: ""
  args: []
  grace_period: 5s
  max_output_bytes: 1048576
  env: {}

source:
  kind: file          # file | github
  file: backlog.yaml
  github:
    repo: ""          # owner/name, empty for the current repository
    labels: []
    limit: 50
    label_priority:
      critical: 100
      bug: 10

report:
  dir: .quorum-sweep/reports
  formats: [json, markdown]

server:
  addr: 127.0.0.1:9464
`

// WriteDefault writes DefaultConfigYAML to path. Existing files are kept
// unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return os.ErrExist
		}
	}
	return fsutil.WriteFileAtomic(filepath.Clean(path), []byte(DefaultConfigYAML), 0o600)
}
