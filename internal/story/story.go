// Package story imports cards from on-disk story files. It is a
// one-directional copy: stories become cards keyed by external id, and
// re-running the sync is a no-op for stories already imported.
package story

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/log"
)

const (
	stateFile = "story_state.json"
	linksFile = "story_links.json"
)

// phaseColumns maps a story's phase to the column its card lands in.
// Unknown phases fall back to backlog.
var phaseColumns = map[string]string{
	"ideating":   "backlog",
	"developing": "in_progress",
	"validating": "current_sprint",
	"done":       "done",
}

type storyState struct {
	Phase string `json:"phase"`
}

// ErrNoStoryFiles reports that the sync directory has no story files.
var ErrNoStoryFiles = fmt.Errorf("no story files found")

// Sync imports every story in dir into the board, one card per story with
// external_type="story". Returns the number of cards created; stories that
// already have a card are skipped.
func Sync(ctx context.Context, store *board.Store, boardID, dir string) (int, error) {
	logger := log.WithComponent("story").With(slog.String("board_id", boardID))

	statePath := filepath.Join(dir, stateFile)
	linksPath := filepath.Join(dir, linksFile)
	if _, err := os.Stat(statePath); err != nil {
		return 0, ErrNoStoryFiles
	}
	if _, err := os.Stat(linksPath); err != nil {
		return 0, ErrNoStoryFiles
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", stateFile, err)
	}
	var state map[string]storyState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("parse %s: %w", stateFile, err)
	}

	created := 0
	for sid, s := range state {
		column, ok := phaseColumns[s.Phase]
		if !ok {
			column = "backlog"
		}
		_, err := store.AddCard(ctx, boardID, board.NewCard{
			Title:        fmt.Sprintf("Story %s", sid),
			Column:       column,
			ExternalType: "story",
			ExternalID:   sid,
		})
		if err != nil {
			// Most commonly the external-id uniqueness firing on a story
			// imported by an earlier run.
			logger.Debug("story skipped", "story_id", sid, "error", err)
			continue
		}
		created++
	}
	logger.Info("story sync complete", "created", created, "total", len(state))
	return created, nil
}
