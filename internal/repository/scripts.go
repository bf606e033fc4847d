package repository

import "github.com/redis/go-redis/v9"

// 所有复合写入都通过 Lua 原子执行，避免应用层读改写

// KEYS: following(a), followers(b)  ARGV: b, a, now
var followScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)

// KEYS: following(a), followers(b), trusted(b)  ARGV: b, a
var unfollowScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
return removed
`)

// KEYS: followers(a), trusted(a)  ARGV: b, now
var trustScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
return redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
`)

// KEYS: feeds...  ARGV: pid, score, bound
var feedPushScript = redis.NewScript(`
local bound = tonumber(ARGV[3])
local added = 0
for _, key in ipairs(KEYS) do
  added = added + redis.call('ZADD', key, ARGV[2], ARGV[1])
  redis.call('ZREMRANGEBYRANK', key, 0, -(bound + 1))
end
return added
`)

// KEYS: feed  ARGV: bound, score1, pid1, score2, pid2, ...
var feedMergeScript = redis.NewScript(`
local bound = tonumber(ARGV[1])
local added = 0
for i = 2, #ARGV, 2 do
  added = added + redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(bound + 1))
return added
`)

// Vote state machine. Record score is sign * cast time (ms).
// KEYS: votes(pid), post scores, user scores
// ARGV: voter, amount (+1/-1), now (ms), window (ms), pid, author
// Returns {sign after vote, delta, post score, author score}; -2 means the window closed.
var voteScript = redis.NewScript(`
local amount = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
local delta
local state
if not cur then
  redis.call('ZADD', KEYS[1], amount * now, ARGV[1])
  delta = amount
  state = amount
else
  cur = tonumber(cur)
  local castAt = math.abs(cur)
  if now - castAt >= window then
    return {-2, 0, 0, 0}
  end
  local sign = 1
  if cur < 0 then sign = -1 end
  if sign == amount then
    redis.call('ZREM', KEYS[1], ARGV[1])
    delta = -amount
    state = 0
  else
    redis.call('ZADD', KEYS[1], amount * castAt, ARGV[1])
    delta = 2 * amount
    state = amount
  end
end
local ps = redis.call('HINCRBY', KEYS[2], ARGV[5], delta)
local us = redis.call('HINCRBY', KEYS[3], ARGV[6], delta)
return {state, delta, ps, us}
`)

// KEYS: subscribers(pid)  ARGV: uid, reason
// Never downgrades: lower reason value wins.
var subscribeScript = redis.NewScript(`
local reason = tonumber(ARGV[2])
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
if cur and tonumber(cur) <= reason then
  return 0
end
redis.call('ZADD', KEYS[1], reason, ARGV[1])
return 1
`)

// KEYS: feed(author), posts(author)  ARGV: pid, score, bound
var authorPublishScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(tonumber(ARGV[3]) + 1))
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// Upgrade-only subscribe plus alert store and queue push.
// KEYS: subscribers(pid), alert(aid), alerts(recipient)...
// ARGV: reason, aid, blob, ttl (ms), received at (ms), subscriber uids...
// Returns how many subscriptions changed.
var subscribeNotifyScript = redis.NewScript(`
local reason = tonumber(ARGV[1])
local changed = 0
for i = 6, #ARGV do
  local cur = redis.call('ZSCORE', KEYS[1], ARGV[i])
  if not cur or tonumber(cur) > reason then
    redis.call('ZADD', KEYS[1], reason, ARGV[i])
    changed = changed + 1
  end
end
if #KEYS > 2 then
  if tonumber(ARGV[4]) > 0 then
    redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
  else
    redis.call('SET', KEYS[2], ARGV[3])
  end
  for i = 3, #KEYS do
    redis.call('ZADD', KEYS[i], ARGV[5], ARGV[2])
  end
end
return changed
`)
