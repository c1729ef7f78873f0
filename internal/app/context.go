package app

import (
	"context"
	"fmt"
	"strings"

	"echowar/internal/repo"
)

// ResolveEpoch picks the epoch a command operates on. An explicit override
// wins; otherwise a workspace holding exactly one epoch selects it.
func ResolveEpoch(ctx context.Context, override string, r repo.Repo) (string, error) {
	epochID := strings.TrimSpace(override)
	if epochID != "" {
		if _, err := r.GetEpoch(ctx, epochID); err != nil {
			return "", err
		}
		return epochID, nil
	}
	ep, err := r.SingleEpoch(ctx)
	if err != nil {
		return "", fmt.Errorf("epoch not specified; use --epoch or set ECHOWAR_EPOCH")
	}
	return ep.ID, nil
}
