package job

import (
	"context"
	"testing"
	"time"
)

// ─────────────────────────────────────────────────────────────
// Status
// ─────────────────────────────────────────────────────────────

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusFailed, false},
		{StatusCompleted, true},
		{StatusDeadLetter, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────
// Lease
// ─────────────────────────────────────────────────────────────

func TestLeaseExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name    string
		status  Status
		expires *time.Time
		want    bool
	}{
		{"processing with past expiry", StatusProcessing, &past, true},
		{"processing with future expiry", StatusProcessing, &future, false},
		{"processing without lease", StatusProcessing, nil, false},
		{"queued with past expiry", StatusQueued, &past, false},
		{"completed with past expiry", StatusCompleted, &past, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := &Job{Status: tt.status, LeaseExpiresAt: tt.expires}
			if got := j.LeaseExpired(now); got != tt.want {
				t.Errorf("LeaseExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────

func TestOptions(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		opts := DefaultOptions()
		if opts.MaxAttempts != 3 {
			t.Errorf("MaxAttempts = %d, want 3", opts.MaxAttempts)
		}
		if opts.Timeout != 5*time.Minute {
			t.Errorf("Timeout = %v, want 5m", opts.Timeout)
		}
	})

	t.Run("functional options", func(t *testing.T) {
		t.Parallel()
		def := NewDefinition(TypeIngest,
			func(ctx context.Context, in struct{}) (string, error) { return "", nil },
			WithMaxAttempts(7),
			WithTimeout(30*time.Second),
		)
		if def.Opts.MaxAttempts != 7 {
			t.Errorf("MaxAttempts = %d, want 7", def.Opts.MaxAttempts)
		}
		if def.Opts.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", def.Opts.Timeout)
		}
	})
}
