package cache

import "fmt"

func SnapshotKey(jobID string) string {
	return fmt.Sprintf("generation:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
