package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aristath/taskcore/internal/events"
)

// logEvents writes one log line per event until ch is closed.
func logEvents(logger *log.Logger, ch <-chan events.Event) {
	for event := range ch {
		if line := describeEvent(event); line != "" {
			logger.Println(line)
		}
	}
}

func describeEvent(event events.Event) string {
	switch e := event.(type) {
	case events.WaveStartedEvent:
		return fmt.Sprintf("wave %d: %s", e.Index, strings.Join(e.Tasks, ", "))
	case events.AttemptStartedEvent:
		return fmt.Sprintf("%s: attempt %d started", e.ID, e.Attempt)
	case events.AttemptFailedEvent:
		prefix := "WARNING:"
		if e.Final {
			prefix = "ERROR:"
		}
		msg := ""
		if e.Err != nil {
			msg, _, _ = strings.Cut(e.Err.Error(), "\n")
		}
		return fmt.Sprintf("%s %s: attempt %d failed after %s (%s): %s",
			prefix, e.ID, e.Attempt, e.Duration.Round(time.Millisecond), e.Kind, msg)
	case events.TaskSucceededEvent:
		return fmt.Sprintf("%s: succeeded in %s", e.ID, e.Duration.Round(time.Millisecond))
	case events.TaskFailedEvent:
		return fmt.Sprintf("ERROR: %s: failed after %d attempt(s)", e.ID, e.Attempts)
	case events.TaskSkippedEvent:
		return fmt.Sprintf("WARNING: %s: skipped, %s", e.ID, e.Reason)
	default:
		return ""
	}
}
