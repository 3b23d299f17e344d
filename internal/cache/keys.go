package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func CaseAliasesKey(jurisdictionID, caseID string) string {
	return fmt.Sprintf("case:%s:%s:aliases", jurisdictionID, caseID)
}

func ActiveConfigKey() string {
	return "experiment:config:active"
}
