package instance

import "os"

// GetID returns the process instance identifier used in logs and lock owners.
func GetID() string {
	for _, key := range []string{"THREADLINE_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
