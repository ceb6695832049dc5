package main

import (
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/config"
	"github.com/zulandar/pitchside/internal/db"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/pitchtest"
	"github.com/zulandar/pitchside/internal/stats"
)

// migrated runs "db migrate" for the config at path and returns a
// connection to the resulting database.
func migrated(t *testing.T, path string) *gorm.DB {
	t.Helper()
	if out, err := run(t, "db", "migrate", "-c", path); err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	return gormDB
}

func TestLeaderboard_Empty(t *testing.T) {
	path := writeConfig(t)
	migrated(t, path)
	out, err := run(t, "leaderboard", "-c", path)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if !strings.Contains(out, "Nobody has played yet.") {
		t.Errorf("output = %q", out)
	}
}

func TestLeaderboard_FiltersAndRanks(t *testing.T) {
	path := writeConfig(t)
	gormDB := migrated(t, path)
	a, b := models.UserRef{ID: "alice"}, models.UserRef{ID: "bob"}
	for _, rec := range []struct {
		region string
		size   int
		users  []models.UserRef
	}{
		{"eu", 5, []models.UserRef{a, b}},
		{"eu", 5, []models.UserRef{b}},
		{"na", 3, []models.UserRef{a, a}},
	} {
		if err := stats.Record(gormDB, rec.region, "g1", rec.size, rec.users); err != nil {
			t.Fatal(err)
		}
	}

	out, err := run(t, "leaderboard", "-c", path, "--region", "EU", "--size", "5")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 3 {
		t.Fatalf("output = %q", out)
	}
	if f := strings.Fields(lines[1]); f[0] != "1" || f[1] != "bob" || f[2] != "2" {
		t.Errorf("first row = %q", lines[1])
	}
	if f := strings.Fields(lines[2]); f[0] != "2" || f[1] != "alice" || f[2] != "1" {
		t.Errorf("second row = %q", lines[2])
	}
	if !strings.Contains(out, "Page 1/1") {
		t.Errorf("expected page footer, got %q", out)
	}
}

func TestLeaderboard_RejectsBadPage(t *testing.T) {
	path := writeConfig(t)
	if _, err := run(t, "leaderboard", "-c", path, "--page", "0"); err == nil {
		t.Fatal("expected error for page 0")
	}
}

func TestLineupShow(t *testing.T) {
	path := writeConfig(t)
	gormDB := migrated(t, path)
	pitchtest.Lineup(t, gormDB, "c1", "g1", "eu", 2, 1)

	out, err := run(t, "lineup", "show", "c1", "-c", path)
	if err != nil {
		t.Fatalf("lineup show: %v", err)
	}
	if !strings.Contains(out, "c1 (2v2)") || !strings.Contains(out, "1/2 signed") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, pitchtest.User("c1", 0).Name) {
		t.Errorf("expected the signed player in output, got %q", out)
	}
}

func TestLineupShow_NotFound(t *testing.T) {
	path := writeConfig(t)
	migrated(t, path)
	if _, err := run(t, "lineup", "show", "missing", "-c", path); err == nil {
		t.Fatal("expected error for missing lineup")
	}
}
