package bootstrap

import (
	"testing"
	"time"

	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/usecase"
	"github.com/kirillkom/docflow/internal/infrastructure/repository/memory"
)

func TestAccessFeedFallsBackWithoutNATS(t *testing.T) {
	cases := []struct {
		driver      string
		wantHealthy bool
	}{
		{driver: "postgres", wantHealthy: false},
		{driver: "memory", wantHealthy: true},
	}
	for _, tc := range cases {
		t.Run(tc.driver, func(t *testing.T) {
			resolver := usecase.NewCapabilityResolver(memory.NewStore(), time.Hour, nil)
			app := &App{}
			if err := app.wireAccessChanges(config.Config{StorageDriver: tc.driver}, nil, resolver); err != nil {
				t.Fatalf("wireAccessChanges() error = %v", err)
			}
			if got := resolver.AccessFeedHealthy(); got != tc.wantHealthy {
				t.Fatalf("AccessFeedHealthy() = %v, want %v", got, tc.wantHealthy)
			}
		})
	}
}
