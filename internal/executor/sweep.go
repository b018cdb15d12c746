package executor

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// markedRounds bounds how often the process table is rescanned for marked
// processes that forked while being killed.
const markedRounds = 3

// sweeper finds every process a unit started so none outlives Run. It tracks
// two things: descendants seen while the unit runs, keyed by pid and creation
// time to avoid hitting a reused pid, and the unit's marker environment
// entry, which survives setsid and reparenting.
type sweeper struct {
	root        int32
	rootCreated int64
	marker      string

	mu   sync.Mutex
	seen map[int32]int64
}

func newSweeper(ctx context.Context, root int, marker string) *sweeper {
	s := &sweeper{root: int32(root), marker: marker, seen: make(map[int32]int64)}
	if p, err := process.NewProcessWithContext(ctx, s.root); err == nil {
		s.rootCreated, _ = p.CreateTimeWithContext(ctx)
	}
	return s
}

// rootExited reports whether the unit process itself is gone or a zombie.
// Lookup failures other than a missing pid count as still running.
func (s *sweeper) rootExited(ctx context.Context) bool {
	p, err := process.NewProcessWithContext(ctx, s.root)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return true
	}
	if err != nil {
		return false
	}
	if s.rootCreated != 0 {
		if ct, err := p.CreateTimeWithContext(ctx); err == nil && ct != s.rootCreated {
			return true
		}
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, st := range status {
		if st == process.Zombie {
			return true
		}
	}
	return false
}

// snapshot records the current descendants of root.
func (s *sweeper) snapshot(ctx context.Context) {
	pids, err := descendants(ctx, s.root)
	if err != nil {
		return
	}
	for _, pid := range pids {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		created, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.seen[pid] = created
		s.mu.Unlock()
	}
}

// killRemaining kills every recorded descendant that is still the same
// process, then every process carrying the marker. It returns how many
// distinct processes were killed.
func (s *sweeper) killRemaining(ctx context.Context) int {
	s.mu.Lock()
	seen := make(map[int32]int64, len(s.seen))
	for pid, created := range s.seen {
		seen[pid] = created
	}
	s.mu.Unlock()

	killed := make(map[int32]bool)
	for pid, created := range seen {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		ct, err := p.CreateTimeWithContext(ctx)
		if err != nil || ct != created {
			continue
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed[pid] = true
		}
	}

	for round := 0; round < markedRounds; round++ {
		marked := s.marked(ctx)
		if len(marked) == 0 {
			break
		}
		for _, p := range marked {
			if err := p.KillWithContext(ctx); err == nil {
				killed[p.Pid] = true
			}
		}
	}
	return len(killed)
}

// marked returns live processes whose environment carries the marker.
// Zombies expose an empty environment and are skipped.
func (s *sweeper) marked(ctx context.Context) []*process.Process {
	if s.marker == "" {
		return nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	self := int32(os.Getpid())
	var out []*process.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		env, err := p.EnvironWithContext(ctx)
		if err != nil {
			continue
		}
		for _, kv := range env {
			if kv == s.marker {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// descendants walks the process table from root.
func descendants(ctx context.Context, root int32) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var out []int32
	queue := []int32{root}
	visited := map[int32]bool{root: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, c := range children[pid] {
			if visited[c] {
				continue
			}
			visited[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out, nil
}
