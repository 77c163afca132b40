package redis

const (
	// retentionSeconds keeps 90 days of usage history, matching the
	// analysis window anyone realistically queries.
	retentionSeconds = 90 * 24 * 60 * 60

	// incrementUsageScript atomically creates-or-increments one app's
	// daily usage record, indexes it for the day, and marks the day's
	// cached trust score stale.
	incrementUsageScript = `
local record_key = KEYS[1]    -- screenwise:usage:{user}:{date}:{app}
local index_key = KEYS[2]     -- screenwise:usage:index:{user}:{date}
local stale_key = KEYS[3]     -- screenwise:summary:stale:{user}:{date}

local user_id = ARGV[1]
local app = ARGV[2]
local category = ARGV[3]
local date = ARGV[4]
local minutes = tonumber(ARGV[5])
local hour_label = ARGV[6]
local now = ARGV[7]
local retention = tonumber(ARGV[8])

local exists = redis.call('EXISTS', record_key)
if exists == 0 then
  redis.call('HSET', record_key,
    'user_id', user_id,
    'app', app,
    'category', category,
    'date', date,
    'minutes_used', 0,
    'minutes_limit', 0,
    'peak_hours', '',
    'version', 0
  )
  redis.call('EXPIRE', record_key, retention)
end

redis.call('HINCRBY', record_key, 'minutes_used', minutes)
redis.call('HINCRBY', record_key, 'version', 1)
redis.call('HSET', record_key, 'updated_at', now)

if hour_label ~= '' then
  local hours = redis.call('HGET', record_key, 'peak_hours')
  local found = false
  for h in string.gmatch(hours, '[^,]+') do
    if h == hour_label then
      found = true
    end
  end
  if not found then
    if hours == '' then
      hours = hour_label
    else
      hours = hours .. ',' .. hour_label
    end
    redis.call('HSET', record_key, 'peak_hours', hours)
  end
end

redis.call('SADD', index_key, app)
redis.call('EXPIRE', index_key, retention)
redis.call('SET', stale_key, '1', 'EX', retention)

return 'OK'
`

	// setLimitScript sets one app's daily limit, creating the record if
	// it does not exist yet, and bumps the version.
	setLimitScript = `
local record_key = KEYS[1]
local index_key = KEYS[2]
local stale_key = KEYS[3]

local user_id = ARGV[1]
local app = ARGV[2]
local date = ARGV[3]
local minutes = tonumber(ARGV[4])
local now = ARGV[5]
local retention = tonumber(ARGV[6])

local exists = redis.call('EXISTS', record_key)
if exists == 0 then
  redis.call('HSET', record_key,
    'user_id', user_id,
    'app', app,
    'category', 'Other',
    'date', date,
    'minutes_used', 0,
    'peak_hours', '',
    'version', 0
  )
  redis.call('EXPIRE', record_key, retention)
  redis.call('SADD', index_key, app)
  redis.call('EXPIRE', index_key, retention)
end

redis.call('HSET', record_key, 'minutes_limit', minutes, 'updated_at', now)
redis.call('HINCRBY', record_key, 'version', 1)
redis.call('SET', stale_key, '1', 'EX', retention)

return 'OK'
`

	// adjustLimitsScript applies a batch of signed limit deltas with
	// optimistic concurrency: every touched record's version must match
	// the caller's expectation or the whole batch is rejected. A missing
	// record matches expected version 0 and is created on apply.
	adjustLimitsScript = `
local n = tonumber(ARGV[1])
local user_id = ARGV[2]
local date = ARGV[3]
local now = ARGV[4]
local retention = tonumber(ARGV[5])
-- per-app args start at ARGV[6], in (app, delta, expected_version) triplets

for i = 0, n - 1 do
  local record_key = KEYS[i + 1]
  local expected = tonumber(ARGV[6 + i * 3 + 2])
  local version = tonumber(redis.call('HGET', record_key, 'version')) or 0
  if version ~= expected then
    return 'CONFLICT'
  end
end

local index_key = KEYS[n + 1]
local stale_key = KEYS[n + 2]

for i = 0, n - 1 do
  local record_key = KEYS[i + 1]
  local app = ARGV[6 + i * 3]
  local delta = tonumber(ARGV[6 + i * 3 + 1])
  if redis.call('EXISTS', record_key) == 0 then
    redis.call('HSET', record_key,
      'user_id', user_id,
      'app', app,
      'category', 'Other',
      'date', date,
      'minutes_used', 0,
      'minutes_limit', 0,
      'peak_hours', '',
      'version', 0
    )
    redis.call('EXPIRE', record_key, retention)
    redis.call('SADD', index_key, app)
    redis.call('EXPIRE', index_key, retention)
  end
  redis.call('HINCRBY', record_key, 'minutes_limit', delta)
  redis.call('HINCRBY', record_key, 'version', 1)
  redis.call('HSET', record_key, 'updated_at', now)
end

redis.call('SET', stale_key, '1', 'EX', retention)

return 'OK'
`
)
