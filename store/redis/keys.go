package redis

// Key prefixes for primary entity storage.
const (
	prefixEventType = "hookline:evtype:" // + name
	prefixWebhook   = "hookline:wh:"
	prefixEvent     = "hookline:evt:"
	prefixDelivery  = "hookline:dlv:"
	prefixDLQ       = "hookline:dlq:"
	prefixLease     = "hookline:lease:dlv:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventTypeID  = "hookline:u:evtype:id:" // + ID, value is type name
	uniqueEventIdem    = "hookline:u:evt:idem:"  // + key, value is event ID
	uniqueDeliveryPair = "hookline:u:dlv:pair:"  // + eventID/webhookID, value is delivery ID
)

// Key prefixes for sorted set indexes.
const (
	zEventTypeAll = "hookline:z:evtype:all"
	zEventAll     = "hookline:z:evt:all"
	zWebhookOwner = "hookline:z:wh:owner:" // + owner ID
	zDeliveryEvt  = "hookline:z:dlv:evt:"  // + event ID
	zDeliveryWH   = "hookline:z:dlv:wh:"   // + webhook ID
	zDeliveryDue  = "hookline:z:dlv:due"   // retrying, scored by next_attempt_at
	zDeliveryPend = "hookline:z:dlv:pend"  // pending, scored by created_at
	zDLQAll       = "hookline:z:dlq:all"   // scored by failed_at
)

// Key prefixes for set indexes.
const (
	sWebhookType    = "hookline:s:wh:type:"    // + event type, active subscribers
	sDeliveryStatus = "hookline:s:dlv:status:" // + status
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// pairIndexKey indexes the (event, webhook) uniqueness constraint.
func pairIndexKey(eventID, webhookID string) string {
	return uniqueDeliveryPair + eventID + "/" + webhookID
}

// statusSetKey returns the membership set key for a delivery status.
func statusSetKey(status string) string {
	return sDeliveryStatus + status
}

// typeSetKey returns the subscription set key for an event type.
func typeSetKey(eventType string) string {
	return sWebhookType + eventType
}
