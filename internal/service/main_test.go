package service

import (
	"os"
	"testing"

	"github.com/ayo6706/payorder-gateway/internal/observability"
)

func TestMain(m *testing.M) {
	observability.Init()
	os.Exit(m.Run())
}
