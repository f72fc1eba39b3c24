package memory

import (
	"testing"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/internal/testutil/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return New() })
}
