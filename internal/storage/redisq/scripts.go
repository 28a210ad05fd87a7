package redisq

import "github.com/redis/go-redis/v9"

// All state transitions run as Lua scripts so claim and resolution are
// atomic on a single Redis instance. Job hash keys are built inside the
// scripts from the ARGV prefix; this driver targets a single node, not
// cluster slots.

// claimScript promotes due scheduled and retry jobs into the pending zset,
// then claims in the same precedence as the relational driver: expired
// processing leases first, then pending by ready_score.
//
// KEYS: pending, scheduled, retry, processing
// ARGV: nowMs, expiresMs, workerID, lockToken, jobKeyPrefix
var claimScript = redis.NewScript(`
local pending = KEYS[1]
local scheduled = KEYS[2]
local retry = KEYS[3]
local processing = KEYS[4]
local now = tonumber(ARGV[1])
local expires = tonumber(ARGV[2])
local worker = ARGV[3]
local token = ARGV[4]
local prefix = ARGV[5]

local due = redis.call('ZRANGEBYSCORE', scheduled, '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  local score = redis.call('HGET', prefix .. id, 'ready_score')
  if score then
    redis.call('ZADD', pending, tonumber(score), id)
  end
  redis.call('ZREM', scheduled, id)
end

local dueRetry = redis.call('ZRANGEBYSCORE', retry, '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(dueRetry) do
  local score = redis.call('HGET', prefix .. id, 'ready_score')
  if score then
    redis.call('ZADD', pending, tonumber(score), id)
  end
  redis.call('ZREM', retry, id)
end

local function take(id, from)
  redis.call('ZREM', from, id)
  redis.call('HSET', prefix .. id,
    'status', 'processing',
    'locked_by', worker,
    'locked_at', now,
    'expires_at', expires,
    'lock_token', token,
    'updated_at', now)
  redis.call('HINCRBY', prefix .. id, 'attempts', 1)
  redis.call('ZADD', processing, expires, id)
  return id
end

local stale = redis.call('ZRANGEBYSCORE', processing, '-inf', now - 1, 'LIMIT', 0, 1)
if stale[1] then
  return take(stale[1], processing)
end

local ready = redis.call('ZRANGE', pending, 0, 0)
if ready[1] then
  return take(ready[1], pending)
end
return false
`)

// guardedScript prefix: every resolution script starts with the same fence
// check and returns 0 on a stale token or non-processing status.
const guard = `
local h = KEYS[1]
if redis.call('HGET', h, 'lock_token') ~= ARGV[1] then return 0 end
if redis.call('HGET', h, 'status') ~= 'processing' then return 0 end
local id = redis.call('HGET', h, 'id')
`

// KEYS: jobHash, processing, completedCounter
// ARGV: lockToken, nowMs
var completeScript = redis.NewScript(guard + `
redis.call('HSET', h, 'status', 'completed', 'completed_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('HDEL', h, 'locked_by', 'locked_at', 'expires_at', 'lock_token')
redis.call('ZREM', KEYS[2], id)
redis.call('INCR', KEYS[3])
return 1
`)

// KEYS: jobHash, processing, failedCounter
// ARGV: lockToken, nowMs, errorMessage, errorDetails
var failScript = redis.NewScript(guard + `
redis.call('HSET', h, 'status', 'failed', 'completed_at', ARGV[2], 'updated_at', ARGV[2],
  'error_message', ARGV[3], 'error_details', ARGV[4])
redis.call('HDEL', h, 'locked_by', 'locked_at', 'expires_at', 'lock_token')
redis.call('ZREM', KEYS[2], id)
redis.call('INCR', KEYS[3])
return 1
`)

// KEYS: jobHash, processing, retry
// ARGV: lockToken, nowMs, nextRetryMs, errorMessage, errorDetails
var retryScript = redis.NewScript(guard + `
redis.call('HSET', h, 'status', 'retry_pending', 'next_retry_at', ARGV[3], 'updated_at', ARGV[2],
  'error_message', ARGV[4], 'error_details', ARGV[5])
redis.call('HDEL', h, 'locked_by', 'locked_at', 'expires_at', 'lock_token')
redis.call('ZREM', KEYS[2], id)
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]), id)
return 1
`)

// rateLimitScript reschedules without consuming the attempt: the claim
// incremented attempts, so a rate-limited outcome decrements it back.
//
// KEYS: jobHash, processing, scheduled
// ARGV: lockToken, nowMs, runAtMs
var rateLimitScript = redis.NewScript(guard + `
redis.call('HSET', h, 'status', 'pending', 'scheduled_for', ARGV[3], 'updated_at', ARGV[2])
redis.call('HINCRBY', h, 'attempts', -1)
redis.call('HDEL', h, 'locked_by', 'locked_at', 'expires_at', 'lock_token')
redis.call('ZREM', KEYS[2], id)
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]), id)
return 1
`)

// KEYS: jobHash, processing
// ARGV: lockToken, nowMs, expiresMs
var extendScript = redis.NewScript(guard + `
redis.call('HSET', h, 'expires_at', ARGV[3], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), id)
return 1
`)

// KEYS: jobHash
// ARGV: lockToken, nowMs, overall, currentStage ('' clears), stages ('' skips)
var progressScript = redis.NewScript(guard + `
redis.call('HSET', h, 'overall_progress', ARGV[3], 'updated_at', ARGV[2])
if ARGV[4] == '' then
  redis.call('HDEL', h, 'current_stage')
else
  redis.call('HSET', h, 'current_stage', ARGV[4])
end
if ARGV[5] ~= '' then
  redis.call('HSET', h, 'stages', ARGV[5])
end
return 1
`)

// reserveKeyScript claims the (queue, key) slot for a new id, or returns
// the holder's id when taken.
//
// KEYS: keysHash
// ARGV: key, newID
var reserveKeyScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then return existing end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return ''
`)

// replaceKeyScript removes a non-active keyed job so the caller can
// recreate it under the same id. Returns {'ACTIVE', id} when the holder is
// processing, {'GONE'} when the index entry was already released, and
// {'REPLACED', id} after removal.
//
// KEYS: keysHash, pending, scheduled, retry, processing
// ARGV: key, jobKeyPrefix
var replaceKeyScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], ARGV[1])
if not id then return {'GONE'} end
local status = redis.call('HGET', ARGV[2] .. id, 'status')
if status == 'processing' then return {'ACTIVE', id} end
redis.call('ZREM', KEYS[2], id)
redis.call('ZREM', KEYS[3], id)
redis.call('ZREM', KEYS[4], id)
redis.call('ZREM', KEYS[5], id)
redis.call('DEL', ARGV[2] .. id)
redis.call('HDEL', KEYS[1], ARGV[1])
return {'REPLACED', id}
`)

// cancelScript deletes a job that has not been claimed. Jobs in flight or
// finished are left alone.
//
// KEYS: jobHash
// ARGV: queuePrefix, jobID
var cancelScript = redis.NewScript(`
local h = KEYS[1]
local status = redis.call('HGET', h, 'status')
if status ~= 'pending' and status ~= 'retry_pending' then return 0 end
local q = redis.call('HGET', h, 'queue')
redis.call('ZREM', ARGV[1] .. q .. ':pending', ARGV[2])
redis.call('ZREM', ARGV[1] .. q .. ':scheduled', ARGV[2])
redis.call('ZREM', ARGV[1] .. q .. ':retry', ARGV[2])
local key = redis.call('HGET', h, 'key')
if key then
  redis.call('HDEL', ARGV[1] .. q .. ':keys', key)
end
redis.call('DEL', h)
return 1
`)
