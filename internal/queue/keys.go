package queue

import "fmt"

// keys centralizes the Redis key schema for one queue, namespaced by
// prefix so multiple queues (or test runs) can share a Redis instance.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "transcode"
	}
	return keys{prefix: prefix}
}

func (k keys) waiting() string   { return fmt.Sprintf("%s:waiting", k.prefix) }
func (k keys) delayed() string   { return fmt.Sprintf("%s:delayed", k.prefix) }
func (k keys) active() string    { return fmt.Sprintf("%s:active", k.prefix) }
func (k keys) completed() string { return fmt.Sprintf("%s:completed", k.prefix) }
func (k keys) failed() string    { return fmt.Sprintf("%s:failed", k.prefix) }
func (k keys) paused() string    { return fmt.Sprintf("%s:paused", k.prefix) }
func (k keys) seq() string       { return fmt.Sprintf("%s:seq", k.prefix) }
func (k keys) events() string    { return fmt.Sprintf("%s:events", k.prefix) }

func (k keys) entry(id string) string { return fmt.Sprintf("%s:entry:%s", k.prefix, id) }
func (k keys) lease(id string) string { return fmt.Sprintf("%s:lease:%s", k.prefix, id) }
