package config

import (
	"os"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "walfeed-test-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
replication:
  db:
    url: postgres://localhost:5432/appdb
    username: replicator
    password: secret
    slot: walfeed_main
    publication: walfeed_pub

node:
  data_dir: /tmp/walfeed

alerts:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Replication.DB.URL != "postgres://localhost:5432/appdb" {
		t.Errorf("unexpected url: %s", cfg.Replication.DB.URL)
	}
	if cfg.Replication.DB.Slot != "walfeed_main" {
		t.Errorf("unexpected slot: %s", cfg.Replication.DB.Slot)
	}
	if cfg.Replication.DB.Publication != "walfeed_pub" {
		t.Errorf("unexpected publication: %s", cfg.Replication.DB.Publication)
	}
	if cfg.Node.DataDir != "/tmp/walfeed" {
		t.Errorf("unexpected data_dir: %s", cfg.Node.DataDir)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("WALFEED_TEST_PASSWORD", "s3cret")

	path := writeConfig(t, `
replication:
  db:
    url: postgres://localhost:5432/appdb
    username: replicator
    password: ${WALFEED_TEST_PASSWORD}
    slot: walfeed_main
    publication: walfeed_pub
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replication.DB.Password != "s3cret" {
		t.Errorf("password not expanded from env: %s", cfg.Replication.DB.Password)
	}
}

func TestLoadDefaultsDataDir(t *testing.T) {
	path := writeConfig(t, `
replication:
  db:
    url: postgres://localhost:5432/appdb
    username: replicator
    slot: walfeed_main
    publication: walfeed_pub
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.DataDir != "data" {
		t.Errorf("expected default data_dir, got %s", cfg.Node.DataDir)
	}
}

func TestValidateMissingFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing url", `
replication:
  db:
    username: replicator
    slot: s
    publication: p
`},
		{"missing username", `
replication:
  db:
    url: postgres://localhost/db
    slot: s
    publication: p
`},
		{"missing slot", `
replication:
  db:
    url: postgres://localhost/db
    username: replicator
    publication: p
`},
		{"missing publication", `
replication:
  db:
    url: postgres://localhost/db
    username: replicator
    slot: s
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
