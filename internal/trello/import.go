package trello

import (
	"context"
	"fmt"
	"strings"

	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/log"
)

// columnForList maps a Trello list name to a board column.
// Unknown names fall back to backlog.
func columnForList(name string) string {
	switch strings.ToLower(name) {
	case "backlog", "to do":
		return "backlog"
	case "doing", "in progress":
		return "in_progress"
	case "current sprint":
		return "current_sprint"
	case "blocked":
		return "blocked"
	case "done", "complete":
		return "done"
	case "archived":
		return "archived"
	}
	return "backlog"
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Synced int      `json:"synced"`
	Moved  int      `json:"moved"`
	Errors []string `json:"errors,omitempty"`
}

// Import copies every card on the named Trello board into boardID. Cards
// already imported (matched by Trello card id) are moved to the mapped
// column when it changed; new cards are created. One bad card does not
// abort the run.
func Import(ctx context.Context, c *Client, store *board.Store, boardID, trelloBoardName string) (ImportResult, error) {
	logger := log.WithComponent("trello").With("board_id", boardID)

	tb, err := c.BoardByName(ctx, trelloBoardName)
	if err != nil {
		return ImportResult{}, err
	}
	if tb == nil {
		return ImportResult{}, fmt.Errorf("trello board %q not found", trelloBoardName)
	}

	lists, err := c.Lists(ctx, tb.ID)
	if err != nil {
		return ImportResult{}, err
	}
	listNames := make(map[string]string, len(lists))
	for _, l := range lists {
		listNames[l.ID] = l.Name
	}

	cards, err := c.Cards(ctx, tb.ID)
	if err != nil {
		return ImportResult{}, err
	}

	existing, err := store.ListCards(ctx, boardID, "")
	if err != nil {
		return ImportResult{}, err
	}
	byExternalID := make(map[string]board.Card)
	for _, card := range existing {
		if card.ExternalType != nil && *card.ExternalType == "trello" && card.ExternalID != nil {
			byExternalID[*card.ExternalID] = card
		}
	}

	var res ImportResult
	for _, tc := range cards {
		column := columnForList(listNames[tc.IDList])

		if prev, ok := byExternalID[tc.ID]; ok {
			if prev.Column != column && column != board.BlockedColumn {
				if _, err := store.MoveCard(ctx, boardID, prev.ID, column, "", ""); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("card %s: %v", tc.Name, err))
					continue
				}
				res.Moved++
			}
			res.Synced++
			continue
		}

		_, err := store.AddCard(ctx, boardID, board.NewCard{
			Title:        tc.Name,
			Column:       column,
			Description:  tc.Desc,
			ExternalType: "trello",
			ExternalID:   tc.ID,
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("card %s: %v", tc.Name, err))
			continue
		}
		res.Synced++
	}

	logger.Info("trello import complete", "synced", res.Synced, "moved", res.Moved, "errors", len(res.Errors))
	return res, nil
}
