package main

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"pulse-backend/pkg/logger"
)

// ReactionStore is the part of the message repository the migration needs
type ReactionStore interface {
	ScanReactions(ctx context.Context, pageSize int, fn func(messageID string, reactions map[string]string) error) error
	SetReaction(ctx context.Context, messageID, username, emoji string) error
}

// Stats summarizes one migration run
type Stats struct {
	Scanned  int
	Repaired int
	Failed   int
}

// repairEmoji reverses one round of UTF-8 read as Windows-1252. Readers
// pass the five bytes Windows-1252 leaves undefined through as C1 controls,
// so those runes map back to their own byte. Text that cannot be re-encoded,
// or whose bytes are not UTF-8 afterwards, was never mangled and comes back
// unchanged.
func repairEmoji(s string) (string, bool) {
	if s == "" || isASCII(s) {
		return s, false
	}
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			raw = append(raw, b)
			continue
		}
		if r >= 0x80 && r <= 0x9F {
			raw = append(raw, byte(r))
			continue
		}
		return s, false
	}
	if !utf8.Valid(raw) || string(raw) == s {
		return s, false
	}
	return string(raw), true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// migrate rewrites every repairable reaction. A failed write is logged and
// counted; the scan continues.
func migrate(ctx context.Context, store ReactionStore, pageSize int, dryRun bool) (Stats, error) {
	var stats Stats
	err := store.ScanReactions(ctx, pageSize, func(messageID string, reactions map[string]string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++

		for username, emoji := range reactions {
			fixed, changed := repairEmoji(emoji)
			if !changed {
				continue
			}
			logger.Debug("Repairing reaction",
				zap.String("message_id", messageID),
				zap.String("username", username),
				zap.String("from", emoji),
				zap.String("to", fixed))
			if dryRun {
				stats.Repaired++
				continue
			}
			if err := store.SetReaction(ctx, messageID, username, fixed); err != nil {
				stats.Failed++
				logger.Warn("Failed to repair reaction",
					zap.String("message_id", messageID),
					zap.String("username", username),
					zap.Error(err))
				continue
			}
			stats.Repaired++
		}
		return nil
	})
	return stats, err
}
