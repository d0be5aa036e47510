// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// Engine defines the interface for a sampling engine. Run blocks until the
// context is cancelled and both polling loops have exited.
type Engine interface {
	Run(ctx context.Context)
}
