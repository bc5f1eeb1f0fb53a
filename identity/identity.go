// Package identity builds the stable, cross-snapshot comparable entity
// identities described by the entity identity encoding table.
package identity

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var procKeyRE = regexp.MustCompile(`[^a-z0-9._-]+`)

// ProcKey derives the proc_key token ([a-z0-9._-]+, no colons) used as the
// prefix of every entity identity emitted by this process. If name is
// empty, a uuid-derived token is used so two processes never collide.
func ProcKey(name string) string {
	if name == "" {
		name = uuid.NewString()
	}
	key := strings.ToLower(name)
	key = procKeyRE.ReplaceAllString(key, "-")
	key = strings.Trim(key, "-")
	if key == "" {
		key = uuid.NewString()
	}
	return key
}

// Process identifies the current process for the purposes of entity
// identity and the capability handshake (spec §6).
type Process struct {
	Name    string
	Pid     int
	ProcKey string
}

// New builds a Process identity, deriving a unique proc_key from name
// when provided, or a fresh uuid suffix otherwise.
func New(name string) Process {
	pid := os.Getpid()
	var key string
	if name != "" {
		key = ProcKey(fmt.Sprintf("%s-%d", name, pid))
	} else {
		key = ProcKey("")
	}
	return Process{Name: name, Pid: pid, ProcKey: key}
}

// Entity identity builders, one per row of the encoding table.

func ProcessID(p Process) string { return fmt.Sprintf("process:%s:%d", p.Name, p.Pid) }

func TaskID(procKey string, ord uint64) string { return fmt.Sprintf("task:%s:%d", procKey, ord) }

func FutureID(procKey string, ord uint64) string { return fmt.Sprintf("future:%s:%d", procKey, ord) }

func LockID(procKey, name string) string { return fmt.Sprintf("lock:%s:%s", procKey, name) }

func SemaphoreID(procKey, name string) string { return fmt.Sprintf("semaphore:%s:%s", procKey, name) }

func MPSCID(procKey, name, side string) string { return fmt.Sprintf("mpsc:%s:%s:%s", procKey, name, side) }

func OneshotID(procKey, name, side string) string {
	return fmt.Sprintf("oneshot:%s:%s:%s", procKey, name, side)
}

func WatchID(procKey, name, side string) string {
	return fmt.Sprintf("watch:%s:%s:%s", procKey, name, side)
}

func BroadcastID(procKey, name, side string) string {
	return fmt.Sprintf("broadcast:%s:%s:%s", procKey, name, side)
}

func OnceCellID(procKey, name string) string { return fmt.Sprintf("once_cell:%s:%s", procKey, name) }

func RequestID(procKey, connection, requestID string) string {
	return fmt.Sprintf("request:%s:%s:%s", procKey, connection, requestID)
}

func ResponseID(procKey, connection, requestID string) string {
	return fmt.Sprintf("response:%s:%s:%s", procKey, connection, requestID)
}

const (
	SideTx = "tx"
	SideRx = "rx"
)
