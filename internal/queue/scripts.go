package queue

import "github.com/redis/go-redis/v9"

// dequeueScript atomically pops the lowest-scored member of the waiting
// zset (priority, then FIFO order baked into the score) and marks it
// active with a lease. Returns the entry ID or an empty string when the
// queue is empty, matching BullMQ's moveToActive Lua script shape.
var dequeueScript = redis.NewScript(`
local waiting = KEYS[1]
local active = KEYS[2]
local leasePrefix = ARGV[1]
local leaseMs = ARGV[2]
local now = ARGV[3]

local popped = redis.call('ZRANGE', waiting, 0, 0)
if #popped == 0 then
	return ''
end

local id = popped[1]
redis.call('ZREM', waiting, id)
redis.call('SADD', active, id)
redis.call('SET', leasePrefix .. id, now, 'PX', leaseMs)
return id
`)
