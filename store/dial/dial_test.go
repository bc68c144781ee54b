package dial_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/bursar/store/dial"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     dial.Config
		wantErr bool
		check   func(t *testing.T, s any)
	}{
		{
			name: "default is memory",
			cfg:  dial.Config{},
			check: func(t *testing.T, s any) {
				if _, ok := s.(*memory.Store); !ok {
					t.Errorf("got %T", s)
				}
			},
		},
		{
			name: "sqlite",
			cfg:  dial.Config{Driver: dial.SQLite, DSN: filepath.Join(t.TempDir(), "bursar.db")},
			check: func(t *testing.T, s any) {
				if _, ok := s.(*sqlite.Store); !ok {
					t.Errorf("got %T", s)
				}
			},
		},
		{name: "missing dsn", cfg: dial.Config{Driver: dial.Postgres}, wantErr: true},
		{name: "unknown driver", cfg: dial.Config{Driver: "oracle", DSN: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := dial.Open(ctx, tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			tt.check(t, s)
		})
	}
}
