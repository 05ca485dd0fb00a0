package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := Postgres()
	require.NoError(t, err)
	require.Len(t, pg, 3)
	for i, want := range []string{"001_streams", "002_policy", "003_tokens"} {
		assert.Equal(t, i+1, pg[i].Version)
		assert.Equal(t, want, pg[i].String())
		assert.NotEmpty(t, pg[i].SQL)
	}

	ch, err := Clickhouse()
	require.NoError(t, err)
	require.Len(t, ch, 1)
	assert.Equal(t, "events", ch[0].Name)

	stmts, err := statements(ch[0].SQL)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS stream_events")
}

func TestLoad(t *testing.T) {
	t.Run("orders by version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"m/010_late.sql":  {Data: []byte("SELECT 10;")},
			"m/002_early.sql": {Data: []byte("SELECT 2;")},
			"m/README.md":     {Data: []byte("ignored")},
		}
		list, err := load(fsys, "m")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 2, list[0].Version)
		assert.Equal(t, 10, list[1].Version)
	})

	t.Run("duplicate version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"m/001_a.sql": {Data: []byte("SELECT 1;")},
			"m/1_b.sql":   {Data: []byte("SELECT 1;")},
		}
		_, err := load(fsys, "m")
		assert.ErrorContains(t, err, "version 1")
	})
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		file    string
		version int
		name    string
		wantErr bool
	}{
		{"001_streams.sql", 1, "streams", false},
		{"042_add_index.sql", 42, "add_index", false},
		{"streams.sql", 0, "", true},
		{"001_.sql", 0, "", true},
		{"abc_streams.sql", 0, "", true},
		{"000_zero.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, err := parseFileName(tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}

	assert.Len(t, pending(all, nil), 3)

	left := pending(all, map[int]bool{1: true, 3: true})
	require.Len(t, left, 1)
	assert.Equal(t, 2, left[0].Version)

	assert.Empty(t, pending(all, map[int]bool{1: true, 2: true, 3: true}))
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    []string
		wantErr bool
	}{
		{
			name:   "comments and blank lines",
			script: "-- header\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (y UInt8)\nENGINE = Memory;\n",
			want:   []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (y UInt8)\nENGINE = Memory"},
		},
		{
			name:   "semicolon inside a literal",
			script: "INSERT INTO t VALUES ('a;b'); SELECT 1",
			want:   []string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"},
		},
		{
			name:   "escaped quote",
			script: "SELECT 'it''s; fine';",
			want:   []string{"SELECT 'it''s; fine'"},
		},
		{
			name:   "dashes inside a literal",
			script: "SELECT '--not a comment';",
			want:   []string{"SELECT '--not a comment'"},
		},
		{
			name:   "only comments",
			script: "-- nothing here;\n",
			want:   nil,
		},
		{
			name:    "unterminated literal",
			script:  "SELECT 'oops;",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := statements(tt.script)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/ledger")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/led;ger")
	assert.Error(t, err)
}
