package redis

const keyPrefix = "catalog_indexer:"

func lockKey(catalogKey string) string  { return keyPrefix + "lock:" + catalogKey }
func ranksKey(catalogKey string) string { return keyPrefix + "ranks:" + catalogKey }
func eventKey(eventID string) string    { return keyPrefix + "event:" + eventID }
