package hiddenservice

import (
	"errors"
	"strings"
	"testing"

	"github.com/nao1215/onionhost/internal/model"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		nickname  string
		localPort int
		onionPort int
		wantNick  string
		wantErr   bool
	}{
		{name: "default nickname", localPort: 2368, onionPort: 80, wantNick: DefaultNickname},
		{name: "custom nickname", nickname: "blog-1", localPort: 2368, onionPort: 80, wantNick: "blog-1"},
		{name: "nickname with path separator", nickname: "../etc", localPort: 2368, onionPort: 80, wantErr: true},
		{name: "nickname too long", nickname: strings.Repeat("a", 65), localPort: 2368, onionPort: 80, wantErr: true},
		{name: "local port zero", localPort: 0, onionPort: 80, wantErr: true},
		{name: "onion port too large", localPort: 2368, onionPort: 65536, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := NewConfig("/tmp/tor", tt.localPort, tt.onionPort, tt.nickname)
			if tt.wantErr {
				if !errors.Is(err, model.ErrConfig) {
					t.Fatalf("expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Nickname() != tt.wantNick {
				t.Errorf("Nickname() = %q, want %q", cfg.Nickname(), tt.wantNick)
			}
			if cfg.DataDir() != "/tmp/tor" {
				t.Errorf("DataDir() = %q", cfg.DataDir())
			}
			if cfg.LocalPort() != tt.localPort || cfg.OnionPort() != tt.onionPort {
				t.Errorf("ports = %d/%d, want %d/%d", cfg.LocalPort(), cfg.OnionPort(), tt.localPort, tt.onionPort)
			}
		})
	}
}

func TestNewForwardRule(t *testing.T) {
	t.Parallel()

	rule, err := NewForwardRule(80, 43123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.OnionPort != 80 {
		t.Errorf("OnionPort = %d, want 80", rule.OnionPort)
	}
	if rule.Target != "127.0.0.1:43123" {
		t.Errorf("Target = %q, want 127.0.0.1:43123", rule.Target)
	}

	if _, err := NewForwardRule(80, -1); !errors.Is(err, model.ErrConfig) {
		t.Errorf("expected ErrConfig for negative port, got %v", err)
	}
}
