package redisqueue

import "github.com/redis/go-redis/v9"

// takeScript moves the head of the stream into the ephemeral hash.
//
// KEYS: log, ephemeral, cursor
// ARGV: ephemeral max size (0 = unbounded), ephemeral enabled ("1"/"0")
//
// Returns {-1} when the ephemeral hash is full, {0} when the stream is
// empty, otherwise {1, stream id, message id, data}.
var takeScript = redis.NewScript(`
local enabled = ARGV[2] == "1"
local max = tonumber(ARGV[1])
if enabled and max > 0 and redis.call("HLEN", KEYS[2]) >= max then
	return {-1}
end
local head = redis.call("XRANGE", KEYS[1], "-", "+", "COUNT", 1)
if #head == 0 then
	return {0}
end
local sid = head[1][1]
local fields = head[1][2]
local id, data = "", ""
for i = 1, #fields, 2 do
	if fields[i] == "id" then
		id = fields[i + 1]
	elseif fields[i] == "data" then
		data = fields[i + 1]
	end
end
redis.call("XDEL", KEYS[1], sid)
redis.call("SET", KEYS[3], sid)
if enabled then
	redis.call("HSET", KEYS[2], id, data)
end
return {1, sid, id, data}
`)

// requeueScript appends a message to the stream and drops its ephemeral
// entry.
//
// KEYS: log, ephemeral
// ARGV: message id, data, drop ephemeral ("1"/"0")
var requeueScript = redis.NewScript(`
local sid = redis.call("XADD", KEYS[1], "*", "id", ARGV[1], "data", ARGV[2])
if ARGV[3] == "1" then
	redis.call("HDEL", KEYS[2], ARGV[1])
end
return sid
`)
