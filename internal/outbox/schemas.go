package outbox

const logRecordedSchema = `{
  "type": "object",
  "title": "LogRecorded",
  "properties": {
    "log_id": {"type": "string"},
    "user_id": {"type": "string"},
    "exercise_id": {"type": "string"},
    "activity_kind": {"type": "string"},
    "performed_at": {"type": "string", "format": "date-time"},
    "set_count": {"type": "integer"},
    "version": {"type": "string"}
  },
  "required": ["log_id", "user_id", "exercise_id", "performed_at", "set_count", "version"],
  "additionalProperties": false
}`

const logStateChangedSchema = `{
  "type": "object",
  "title": "LogStateChanged",
  "properties": {
    "log_id": {"type": "string"},
    "user_id": {"type": "string"},
    "state": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "reason": {"type": "string"}
  },
  "required": ["log_id", "user_id", "state", "occurred_at"],
  "additionalProperties": false
}`
