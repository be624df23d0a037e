package credentials

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/raaihank/medgateway/internal/logger"
)

func envOf(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func TestChainPrefersStore(t *testing.T) {
	store := NewMemoryStore()
	store.Set("openai", "sk-store")

	var migrations []Migration
	c := NewChain(store, logger.NewNop(),
		WithEnvLookup(envOf(map[string]string{"OPENAI_API_KEY": "sk-env"})),
		WithMigrationHandler(func(m Migration) { migrations = append(migrations, m) }),
	)

	res, err := c.Resolve("openai")
	if err != nil {
		t.Fatal(err)
	}
	if res.Secret != "sk-store" || res.Source != SourceStore {
		t.Errorf("got %+v", res)
	}
	if len(migrations) != 0 {
		t.Errorf("no migration expected, got %v", migrations)
	}
}

func TestChainEnvironmentFallbackNotifiesOnce(t *testing.T) {
	env := map[string]string{"OPENAI_API_KEY": " sk-env "}
	var migrations []Migration
	c := NewChain(NewMemoryStore(), logger.NewNop(),
		WithEnvLookup(envOf(env)),
		WithMigrationHandler(func(m Migration) { migrations = append(migrations, m) }),
	)

	for i := 0; i < 3; i++ {
		res, err := c.Resolve("openai")
		if err != nil {
			t.Fatal(err)
		}
		if res.Secret != "sk-env" || res.Source != SourceEnvironment {
			t.Errorf("got %+v", res)
		}
	}

	if len(migrations) != 1 || migrations[0].EnvVar != "OPENAI_API_KEY" {
		t.Errorf("migrations = %v", migrations)
	}
	if env["OPENAI_API_KEY"] != " sk-env " {
		t.Error("environment must be left untouched")
	}
}

func TestChainNotFound(t *testing.T) {
	c := NewChain(nil, logger.NewNop(), WithEnvLookup(envOf(nil)))

	if _, err := c.Resolve("openai"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v", err)
	}
	if _, err := c.Resolve("ollama"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestChainImport(t *testing.T) {
	store := NewMemoryStore()
	c := NewChain(store, logger.NewNop(), WithEnvLookup(envOf(map[string]string{"OPENAI_API_KEY": "sk-env"})))

	imported, err := c.Import("openai")
	if err != nil || !imported {
		t.Fatalf("import: %v %v", imported, err)
	}
	if got, _ := store.Get("openai"); got != "sk-env" {
		t.Errorf("store has %q", got)
	}
	res, _ := c.Resolve("openai")
	if res.Source != SourceStore {
		t.Errorf("after import the store must win, got %s", res.Source)
	}
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.db")
	s, err := OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get("openai"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store: %v", err)
	}
	if err := s.Set("openai", "sk-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if got, err := s.Get("openai"); err != nil || got != "sk-1" {
		t.Errorf("reopened store: %q %v", got, err)
	}
	if err := s.Delete("openai"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("openai"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
}

func TestBoltStoreReadOnly(t *testing.T) {
	t.Run("missing file is not created", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "creds.db")
		s, err := OpenBoltStoreReadOnly(path)
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()

		if _, err := s.Get("openai"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get = %v", err)
		}
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("store file created: %v", err)
		}
	})

	t.Run("existing file is readable but not writable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "creds.db")
		rw, err := OpenBoltStore(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := rw.Set("openai", "sk-1"); err != nil {
			t.Fatal(err)
		}
		rw.Close()

		s, err := OpenBoltStoreReadOnly(path)
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()

		if got, err := s.Get("openai"); err != nil || got != "sk-1" {
			t.Errorf("Get = %q, %v", got, err)
		}
		if err := s.Set("openai", "sk-2"); err == nil {
			t.Error("Set succeeded on a read-only store")
		}
	})
}
