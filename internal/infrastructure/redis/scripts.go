package redis

import "github.com/go-redis/redis/v8"

// KEYS: members hash, order zset, seq counter, instance membership index.
// ARGV: connection id, instance id, capacity, room id.
var reserveScript = redis.NewScript(`
local conn = ARGV[1]
local instance = ARGV[2]
local capacity = tonumber(ARGV[3])

if redis.call('HEXISTS', KEYS[1], conn) == 0 then
    if redis.call('HLEN', KEYS[1]) >= capacity then
        return {0}
    end
    redis.call('HSET', KEYS[1], conn, instance)
    redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[3]), conn)
    redis.call('SADD', KEYS[4], ARGV[4] .. '\31' .. conn)
end

local out = {1}
for _, id in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
    local owner = redis.call('HGET', KEYS[1], id)
    if owner then
        table.insert(out, id)
        table.insert(out, owner)
    end
end
return out
`)

// Same KEYS as reserveScript. ARGV: connection id, instance id, room id.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
    redis.call('HDEL', KEYS[1], ARGV[1])
    redis.call('ZREM', KEYS[2], ARGV[1])
    redis.call('SREM', KEYS[4], ARGV[3] .. '\31' .. ARGV[1])
end
if redis.call('HLEN', KEYS[1]) == 0 then
    redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
end
return 1
`)
